// Package script loads and validates individual SQL script files.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
)

// Terminator is the character every script body must end with.
const Terminator = ';'

// NoticeLanguage selects the procedural language of the marker statement
// appended after each script.
type NoticeLanguage string

const (
	// NoticePLpgSQL raises the notice from a plpgsql DO block.
	NoticePLpgSQL NoticeLanguage = "plpgsql"
	// NoticePLV8 raises the notice through plv8.elog.
	NoticePLV8 NoticeLanguage = "plv8"
	// NoticeNone appends no marker.
	NoticeNone NoticeLanguage = "none"
)

// Options configures a Loader.
type Options struct {
	Notice NoticeLanguage
	Logger *zap.Logger
}

// Loader reads script files and appends the marker statement.
type Loader struct {
	notice NoticeLanguage
	logger *zap.Logger
}

// NewLoader creates a loader. A zero Options uses plpgsql markers and a no-op logger.
func NewLoader(opts Options) *Loader {
	l := &Loader{notice: opts.Notice, logger: opts.Logger}
	if l.notice == "" {
		l.notice = NoticePLpgSQL
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Load reads the script at path, checks that it ends in a terminator and
// returns the trimmed body followed by the marker statement.
func (l *Loader) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &builderrors.NotFoundError{Path: path}
		}
		return "", fmt.Errorf("failed to read script %s: %w", path, err)
	}

	body := strings.TrimSpace(string(content))
	if body == "" || body[len(body)-1] != Terminator {
		last := ""
		if body != "" {
			last = body[len(body)-1:]
		}
		ferr := &builderrors.FormatError{Path: path, LastChar: last}
		l.logger.Warn("script rejected", zap.String("path", path), zap.Error(ferr))
		return "", ferr
	}

	l.logger.Debug("script loaded", zap.String("path", path), zap.Int("bytes", len(body)))

	// The marker follows the body: the very first script may be the one that
	// creates the procedural language the marker needs.
	return body + l.marker(path), nil
}

func (l *Loader) marker(path string) string {
	switch l.notice {
	case NoticeNone:
		return "\n"
	case NoticePLV8:
		msg, _ := json.Marshal("Just ran file " + path)
		body := " plv8.elog(NOTICE, " + string(msg) + "); "
		tag := dollarTag(body)
		return "\ndo " + tag + body + tag + " language plv8;\n"
	default:
		body := " BEGIN RAISE NOTICE 'Just ran file %', " + pq.QuoteLiteral(path) + "; END "
		tag := dollarTag(body)
		return "\nDO " + tag + body + tag + ";\n"
	}
}

// dollarTag returns a dollar quote that does not occur in body.
func dollarTag(body string) string {
	if !strings.Contains(body, "$$") {
		return "$$"
	}
	tag := "$xtmarker$"
	for strings.Contains(body, tag) {
		tag = tag[:len(tag)-1] + "_$"
	}
	return tag
}
