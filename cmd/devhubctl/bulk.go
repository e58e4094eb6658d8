package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func bulkUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-update [email...]",
		Short: "Grant DevHub access to every listed email that has an account",
		Long: `Send a batch of emails to /api/bulk-update.

Emails are taken from the arguments and, with --file, from a file with one
email per line (or comma separated). Use "-" to read standard input.`,
		RunE: runBulkUpdate,
	}

	cmd.Flags().String("secret", os.Getenv("BULK_UPDATE_SECRET"), "Operator secret")
	cmd.Flags().StringP("file", "f", "", "File with emails")
	cmd.Flags().BoolP("json", "j", false, "Output the raw response")

	return cmd
}

func runBulkUpdate(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	file, _ := cmd.Flags().GetString("file")
	asJSON, _ := cmd.Flags().GetBool("json")

	emails := splitEmails(strings.Join(args, "\n"))
	if file != "" {
		var (
			r   io.Reader
			err error
		)
		if file == "-" {
			r = cmd.InOrStdin()
		} else {
			f, openErr := os.Open(file)
			if openErr != nil {
				return fmt.Errorf("open %s: %w", file, openErr)
			}
			defer f.Close()
			r = f
		}
		fromFile, err := readEmails(r)
		if err != nil {
			return err
		}
		emails = append(emails, fromFile...)
	}
	if len(emails) == 0 {
		return fmt.Errorf("no emails given")
	}

	out, err := apiClient(cmd).BulkUpdate(cmd.Context(), secret, emails)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Batch %s\n", out.BatchID)
	fmt.Fprintf(w, "  Total:     %d\n", out.Summary.Total)
	fmt.Fprintf(w, "  Granted:   %d\n", out.Summary.Success)
	fmt.Fprintf(w, "  Not found: %d\n", out.Summary.NotFound)
	fmt.Fprintf(w, "  Errors:    %d\n", out.Summary.Errors)
	for _, email := range out.Results.NotFound {
		fmt.Fprintf(w, "  - not found: %s\n", email)
	}
	for _, e := range out.Results.Errors {
		fmt.Fprintf(w, "  - error: %s (%s)\n", e.Email, e.Error)
	}
	return nil
}

// readEmails reads one or more emails per line. Blank lines and lines
// starting with # are skipped.
func readEmails(r io.Reader) ([]string, error) {
	var emails []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails = append(emails, splitEmails(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read emails: %w", err)
	}
	return emails, nil
}

func splitEmails(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
