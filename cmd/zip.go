package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/abe-nagisa/arcparse/zip"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var zipCmd = &cobra.Command{
	Use:   "zip",
	Short: "List and extract zip archives",
}

var zipListCmd = &cobra.Command{
	Use:   "list <source>",
	Short: "List the entries of a zip archive without decoding them",
	Args:  cobra.ExactArgs(1),
	RunE:  zipList,
}

var zipExtractCmd = &cobra.Command{
	Use:   "extract <source> [name...]",
	Short: "Verify and extract the entries of a zip archive",
	Args:  cobra.MinimumNArgs(1),
	RunE:  zipExtract,
}

func init() {
	rootCmd.AddCommand(zipCmd)
	zipCmd.AddCommand(zipListCmd, zipExtractCmd)

	zipExtractCmd.Flags().StringP("path", "d", ".", "directory to extract into")
}

func zipList(c *cobra.Command, args []string) error {
	data, err := readSource(c, args[0])
	if err != nil {
		return err
	}
	d := dispatcher()
	z, err := zip.NewReader(data, zip.WithDispatcher(d))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tMETHOD\tSIZE\tCOMPRESSED\tCRC32\tMODIFIED")
	for _, f := range z.File {
		mod := "-"
		if !f.ModTime.IsZero() {
			mod = f.ModTime.Format(time.RFC3339)
		}
		method := f.Method.String()
		if !d.Supports(uint16(f.Method)) {
			method = fmt.Sprintf("unsupported(%d)", uint16(f.Method))
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%d\t%d\t%08x\t%s\n",
			f.Name, f.Type, method, f.Size, f.CompressedSize, f.CRC32, mod)
	}
	if z.End.Comment != "" {
		fmt.Fprintf(w, "\ncomment: %s\n", z.End.Comment)
	}
	return w.Flush()
}

func zipExtract(c *cobra.Command, args []string) error {
	data, err := readSource(c, args[0])
	if err != nil {
		return err
	}
	z, err := zip.NewReader(data, zip.WithDispatcher(dispatcher()))
	if err != nil {
		return err
	}

	// create download location
	dest, _ := c.Flags().GetString("path")
	if err := os.MkdirAll(dest, 0755); err != nil {
		return errors.Wrap(err, "create destination")
	}

	want := make(map[string]bool, len(args)-1)
	for _, name := range args[1:] {
		want[name] = true
	}
	for _, f := range z.File {
		if len(want) > 0 && !want[f.Name] {
			continue
		}
		if err := extractFile(z, f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(z *zip.Reader, f *zip.File, dest string) error {
	if !filepath.IsLocal(f.Name) {
		logger.Warn("skipping entry outside destination", "name", f.Name)
		return nil
	}
	p := filepath.Join(dest, f.Name)

	b, err := z.Extract(f)
	if err != nil {
		return err
	}
	switch f.Type {
	case zip.TypeDirectory:
		logger.Debug("directory", "name", f.Name)
		return errors.Wrap(os.MkdirAll(p, dirMode(f)), f.Name)
	case zip.TypeSymlink:
		logger.Debug("symlink", "name", f.Name, "target", string(b))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return errors.Wrap(err, f.Name)
		}
		return errors.Wrap(os.Symlink(string(b), p), f.Name)
	}

	logger.Info("extracted", "name", f.Name, "size", len(b), "method", f.Method)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrap(err, f.Name)
	}
	return errors.Wrap(os.WriteFile(p, b, fileMode(f)), f.Name)
}

func fileMode(f *zip.File) os.FileMode {
	if f.FileSystem == zip.FileSystemUnix && f.Permissions != 0 {
		return f.Permissions
	}
	if f.DOSAttributes != nil && f.DOSAttributes.Has(zip.DOSReadOnly) {
		return 0444
	}
	return 0644
}

func dirMode(f *zip.File) os.FileMode {
	if f.FileSystem == zip.FileSystemUnix && f.Permissions != 0 {
		return f.Permissions | 0700
	}
	return 0755
}
