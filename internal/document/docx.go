package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
)

// ErrTemplateMissing is returned when the template file does not exist.
var ErrTemplateMissing = errors.New("document template not found")

// Renderer turns a field mapping into a finished document.
type Renderer interface {
	Render(ctx context.Context, fields map[string]string) ([]byte, error)
}

var (
	placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	// a <w:t> element; its content never contains '<'
	textNode    = regexp.MustCompile(`(<w:t(?:\s[^>]*)?>)([^<]*)</w:t>`)
)

// DocxRenderer merges fields into a Word template. The template is read from
// disk on every call.
type DocxRenderer struct {
	templatePath string
}

func NewDocxRenderer(templatePath string) *DocxRenderer {
	return &DocxRenderer{templatePath: templatePath}
}

func (r *DocxRenderer) Render(ctx context.Context, fields map[string]string) ([]byte, error) {
	zr, err := zip.OpenReader(r.templatePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateMissing, r.templatePath)
		}
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer zr.Close()

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isMergePart(f.Name) {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}
		if err := mergePart(zw, f, fields); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize document: %w", err)
	}
	return out.Bytes(), nil
}

func isMergePart(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	dir, base := path.Split(name)
	if dir != "word/" || !strings.HasSuffix(base, ".xml") {
		return false
	}
	return strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer")
}

func mergePart(zw *zip.Writer, f *zip.File, fields map[string]string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	body, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}

	merged := mergeText(body, fields)

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     f.Name,
		Method:   zip.Deflate,
		Modified: f.Modified,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}
	if _, err := w.Write(merged); err != nil {
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	return nil
}

// mergeText substitutes placeholders in the text of a WordprocessingML part.
// Word often splits one placeholder over several runs, so matching happens
// on the concatenated <w:t> contents. The value goes into the run holding the
// opening braces; the matched remainder is cut from the runs that follow.
func mergeText(body []byte, fields map[string]string) []byte {
	locs := textNode.FindAllSubmatchIndex(body, -1)
	if len(locs) == 0 {
		return body
	}

	var (
		joined  strings.Builder
		opens   = make([]string, len(locs))
		texts   = make([]string, len(locs))
		starts  = make([]int, len(locs))
		touched = make([]bool, len(locs))
	)
	for i, loc := range locs {
		opens[i] = string(body[loc[2]:loc[3]])
		texts[i] = string(body[loc[4]:loc[5]])
		starts[i] = joined.Len()
		joined.WriteString(texts[i])
	}

	all := joined.String()
	matches := placeholder.FindAllStringSubmatchIndex(all, -1)
	if len(matches) == 0 {
		return body
	}
	// Later matches first, so offsets of earlier ones stay valid.
	for k := len(matches) - 1; k >= 0; k-- {
		m := matches[k]
		from, to := m[0], m[1]
		name := all[m[2]:m[3]]
		first, last := nodeAt(starts, from), nodeAt(starts, to-1)

		head := texts[first][:from-starts[first]]
		if first == last {
			texts[first] = head + escapeValue(fields[name]) + texts[first][to-starts[first]:]
		} else {
			texts[first] = head + escapeValue(fields[name])
			for i := first + 1; i < last; i++ {
				texts[i] = ""
			}
			texts[last] = texts[last][to-starts[last]:]
			touched[last] = true
		}
		touched[first] = true
	}

	var out bytes.Buffer
	prev := 0
	for i, loc := range locs {
		out.Write(body[prev:loc[0]])
		open := opens[i]
		if touched[i] {
			open = preserveSpace(open)
		}
		out.WriteString(open)
		out.WriteString(texts[i])
		out.WriteString("</w:t>")
		prev = loc[1]
	}
	out.Write(body[prev:])
	return out.Bytes()
}

// nodeAt returns the text node holding byte offset off of the joined text.
func nodeAt(starts []int, off int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > off }) - 1
}

// preserveSpace marks a <w:t> start tag so Word keeps leading and trailing
// spaces of merged values.
func preserveSpace(open string) string {
	if strings.Contains(open, "xml:space=") {
		return open
	}
	return `<w:t xml:space="preserve"` + strings.TrimPrefix(open, "<w:t")
}

// escapeValue XML-escapes a value for use inside <w:t>. Newlines close the
// current text run and insert a line break.
func escapeValue(v string) string {
	var buf strings.Builder
	lines := strings.Split(strings.ReplaceAll(v, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if i > 0 {
			buf.WriteString(`</w:t><w:br/><w:t xml:space="preserve">`)
		}
		_ = xml.EscapeText(&buf, []byte(line))
	}
	return buf.String()
}
