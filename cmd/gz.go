package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/abe-nagisa/arcparse/gzip"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var gzCmd = &cobra.Command{
	Use:   "gz",
	Short: "Inspect, decode and encode gzip streams",
}

var gzInfoCmd = &cobra.Command{
	Use:   "info <source>",
	Short: "List the members of a gzip stream",
	Args:  cobra.ExactArgs(1),
	RunE:  gzInfo,
}

var gzDecodeCmd = &cobra.Command{
	Use:   "decode <source>",
	Short: "Decode every member of a gzip stream and write the joined payload",
	Args:  cobra.ExactArgs(1),
	RunE:  gzDecode,
}

var gzEncodeCmd = &cobra.Command{
	Use:   "encode <source>",
	Short: "Compress a file into a single gzip member",
	Args:  cobra.ExactArgs(1),
	RunE:  gzEncode,
}

func init() {
	rootCmd.AddCommand(gzCmd)
	gzCmd.AddCommand(gzInfoCmd, gzDecodeCmd, gzEncodeCmd)

	gzDecodeCmd.Flags().StringP("output", "o", "-", "destination file, - for standard output")
	gzDecodeCmd.Flags().Bool("keep-partial", false, "write the members verified before a checksum failure")

	gzEncodeCmd.Flags().StringP("output", "o", "-", "destination file, - for standard output")
	gzEncodeCmd.Flags().String("name", "", "original file name to record, defaults to the source name")
	gzEncodeCmd.Flags().String("comment", "", "comment to record")
	gzEncodeCmd.Flags().Bool("text", false, "mark the payload as text")
	gzEncodeCmd.Flags().Bool("header-crc", false, "write a header CRC")
}

func gzInfo(c *cobra.Command, args []string) error {
	data, err := readSource(c, args[0])
	if err != nil {
		return err
	}
	members, err := gzip.MultiUnarchive(data, gzip.WithDispatcher(dispatcher()))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tSIZE\tCRC32\tOS\tMODIFIED\tCOMMENT")
	for i, m := range members {
		mod := "-"
		if !m.Header.ModTime.IsZero() {
			mod = m.Header.ModTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%08x\t%v\t%s\t%s\n",
			i, m.Header.Name, len(m.Data), m.CRC32, m.Header.OS, mod, m.Header.Comment)
	}
	return w.Flush()
}

func gzDecode(c *cobra.Command, args []string) error {
	data, err := readSource(c, args[0])
	if err != nil {
		return err
	}
	members, err := gzip.MultiUnarchive(data, gzip.WithDispatcher(dispatcher()))
	var ce *gzip.ChecksumError
	if errors.As(err, &ce) {
		keep, _ := c.Flags().GetBool("keep-partial")
		logger.Warn("checksum mismatch", "member", len(ce.Members), "err", ce.Err)
		if !keep {
			return err
		}
		members = ce.Members
	} else if err != nil {
		return err
	}

	output, _ := c.Flags().GetString("output")
	return writeOutput(c, output, func(w io.Writer) error {
		for _, m := range members {
			logger.Debug("member", "name", m.Header.Name, "size", len(m.Data))
			if _, err := w.Write(m.Data); err != nil {
				return err
			}
		}
		return nil
	}, err)
}

func gzEncode(c *cobra.Command, args []string) error {
	data, err := readSource(c, args[0])
	if err != nil {
		return err
	}
	o := gzip.Options{OS: gzip.OSUnknown}
	o.Name, _ = c.Flags().GetString("name")
	o.Comment, _ = c.Flags().GetString("comment")
	o.IsText, _ = c.Flags().GetBool("text")
	o.WriteHeaderCRC, _ = c.Flags().GetBool("header-crc")
	if st, err := os.Stat(args[0]); err == nil {
		o.ModTime = st.ModTime()
		if o.Name == "" {
			o.Name = st.Name()
		}
	}

	out, err := gzip.Archive(data, o, gzip.WithDispatcher(dispatcher()))
	if err != nil {
		return err
	}
	logger.Info("encoded", "name", o.Name, "size", len(data), "compressed", len(out))
	output, _ := c.Flags().GetString("output")
	return writeOutput(c, output, func(w io.Writer) error {
		_, err := w.Write(out)
		return err
	}, nil)
}

// writeOutput runs write against standard output or a new file at path and
// returns prior when it is not nil.
func writeOutput(c *cobra.Command, path string, write func(io.Writer) error, prior error) error {
	if path == "-" {
		if err := write(c.OutOrStdout()); err != nil {
			return err
		}
		return prior
	}
	fp, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := write(fp); err != nil {
		fp.Close()
		return errors.Wrap(err, "write output")
	}
	if err := fp.Close(); err != nil {
		return errors.Wrap(err, "write output")
	}
	return prior
}
