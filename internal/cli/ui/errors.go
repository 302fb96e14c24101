package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level       ErrorLevel
	Context     string
	Problem     string
	Consequence string
	Suggestions []string
	Hints       []string
	NoColor     bool
}

// FormatError renders a message block:
//
//	❌ MANIFEST NOT FOUND: dev
//	   /src/crm/database/source/manifest.js does not exist.
//
//	   Nothing was executed against dev.
//
//	   → Check the extension path in xtbuild.yml
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var headerColor, bodyColor *color.Color
	var symbol string

	switch opts.Level {
	case ErrorLevelWarning:
		headerColor = color.New(color.FgYellow, color.Bold)
		bodyColor = color.New(color.FgYellow)
		symbol = "⚠️"
	case ErrorLevelInfo:
		headerColor = color.New(color.FgCyan, color.Bold)
		bodyColor = color.New(color.FgCyan)
		symbol = "ℹ️"
	default:
		headerColor = color.New(color.FgRed, color.Bold)
		bodyColor = color.New(color.FgRed)
		symbol = "❌"
	}
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	if opts.NoColor {
		for _, c := range []*color.Color{headerColor, bodyColor, yellow, cyan} {
			c.DisableColor()
		}
	}

	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s\n", symbol, strings.ToUpper(opts.Context))
		if opts.Problem != "" {
			bodyColor.Fprintf(&b, "   %s\n", opts.Problem)
		}
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if opts.Consequence != "" {
		b.WriteString("\n")
		bodyColor.Fprintf(&b, "   %s\n", opts.Consequence)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.Hints) > 0 {
		b.WriteString("\n")
		for _, hint := range opts.Hints {
			cyan.Fprintf(&b, "   → %s\n", hint)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// UnknownDatabaseError reports a --only name that matches no configured build
func UnknownDatabaseError(name string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "UNKNOWN DATABASE",
		Problem:     fmt.Sprintf("No build for database '%s' is configured.", name),
		Suggestions: suggestions,
		Hints:       []string{"List configured builds: xtbuild check"},
		NoColor:     noColor,
	})
}

// ConfigError creates a standardized configuration error
func ConfigError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context: "CONFIGURATION ERROR",
		Problem: message,
		Hints: []string{
			"View config: cat xtbuild.yml",
			"Get help: xtbuild build --help",
		},
		NoColor: noColor,
	})
}

// Warning creates a standardized warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{Level: ErrorLevelWarning, Problem: message, NoColor: noColor})
}

// BuildFailure renders the failure of one database build, with hints
// picked from the kind of error.
func BuildFailure(database string, err error, noColor bool) string {
	opts := ErrorOptions{
		Context:     "BUILD FAILED: " + database,
		Problem:     err.Error(),
		Consequence: fmt.Sprintf("Nothing was committed to %s.", database),
		NoColor:     noColor,
	}

	switch {
	case errors.Is(err, builderrors.ErrFormat):
		opts.Hints = []string{"End the script with a semicolon and rerun"}
	case errors.Is(err, builderrors.ErrMissingManifest):
		opts.Hints = []string{"Check the extension path; it must contain database/source/manifest.js"}
	case errors.Is(err, builderrors.ErrInvalidManifest):
		opts.Hints = []string{"manifest.js must be a JSON object with a databaseScripts array"}
	case errors.Is(err, builderrors.ErrNotFound):
		opts.Hints = []string{"Every file listed in databaseScripts must exist next to manifest.js"}
	case errors.Is(err, builderrors.ErrSchemaObject):
		opts.Hints = []string{"Validate the ORM definitions offline: xtbuild check"}
	case errors.Is(err, builderrors.ErrLock):
		opts.Consequence = "Another run is building this database; nothing was done."
		opts.Hints = []string{"Wait for the other run or let its lock expire"}
	case errors.Is(err, builderrors.ErrReset):
		opts.Consequence = "No database was built."
		opts.Hints = []string{"Make sure nothing is connected to the database being reset"}
	case errors.Is(err, builderrors.ErrQuery):
		opts.Hints = []string{"Rerun with --verbose to see every statement sent"}
	}
	return FormatError(opts)
}
