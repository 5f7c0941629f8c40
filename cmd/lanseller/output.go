package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/nafkem/LansRealEstate/internal/verify"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(err error) {
	var apiErr *verify.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", colorRed("Error:"), apiErr.Error())
		if apiErr.Result != "" && apiErr.Status == 0 {
			fmt.Fprintf(os.Stderr, "  Explorer said: %s\n", apiErr.Result)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", colorRed("Error:"), err.Error())
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printTableHeader(w *tabwriter.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, colorBold(col))
	}
	fmt.Fprintln(w)
}

// Terminal colors

func colorRed(s string) string    { return colorize("\033[31m", s) }
func colorGreen(s string) string  { return colorize("\033[32m", s) }
func colorYellow(s string) string { return colorize("\033[33m", s) }
func colorBold(s string) string   { return colorize("\033[1m", s) }

func colorize(code, s string) string {
	if !isTTY() {
		return s
	}
	return code + s + "\033[0m"
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
