package codegen

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type notebookCell struct {
	CellType       string         `json:"cell_type"`
	ExecutionCount *int           `json:"execution_count"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []any          `json:"outputs"`
	Source         []string       `json:"source"`
}

type notebookDoc struct {
	Cells         []notebookCell `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// Notebook renders cells as an nbformat 4 document: an import cell
// followed by one code cell per step, each headed by its label.
func Notebook(cells []Cell) ([]byte, error) {
	doc := notebookDoc{
		Cells: []notebookCell{codeCell(Preamble)},
		Metadata: map[string]any{
			"kernelspec": map[string]string{
				"display_name": "Python 3",
				"language":     "python",
				"name":         "python3",
			},
			"language_info": map[string]string{"name": "python"},
		},
		NBFormat:      4,
		NBFormatMinor: 4,
	}
	for _, c := range cells {
		doc.Cells = append(doc.Cells, codeCell("# "+CommentText(c.Label)+"\n"+strings.TrimRight(c.Code, "\n")))
	}
	out, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return nil, fmt.Errorf("notebook marshal: %w", err)
	}
	return out, nil
}

// codeCell splits source into nbformat's line list, keeping newlines on
// every line but the last.
func codeCell(src string) notebookCell {
	lines := strings.SplitAfter(src, "\n")
	return notebookCell{
		CellType: "code",
		Metadata: map[string]any{},
		Outputs:  []any{},
		Source:   lines,
	}
}

// CellSeparator starts every block in clipboard text.
const CellSeparator = "# %%"

// Clipboard renders cells as separator-delimited blocks, the format code
// editors treat as runnable cells.
func Clipboard(cells []Cell) string {
	var sb strings.Builder
	for i, c := range cells {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s [%d] %s\n", CellSeparator, i+1, CommentText(c.Label))
		sb.WriteString(strings.TrimRight(c.Code, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Block is one cell read back from clipboard text.
type Block struct {
	Label string
	Code  string
}

var blockIndex = regexp.MustCompile(`^\[\d+\]\s*`)

// SplitClipboard reads separator-delimited text back into blocks. Text
// before the first separator becomes an unlabeled block when non-empty.
func SplitClipboard(text string) []Block {
	var blocks []Block
	var cur *Block
	var lines []string
	flush := func() {
		code := strings.TrimSpace(strings.Join(lines, "\n"))
		if cur != nil {
			cur.Code = code
			blocks = append(blocks, *cur)
		} else if code != "" {
			blocks = append(blocks, Block{Code: code})
		}
		lines = nil
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, CellSeparator) {
			flush()
			label := strings.TrimSpace(strings.TrimPrefix(line, CellSeparator))
			cur = &Block{Label: blockIndex.ReplaceAllString(label, "")}
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return blocks
}
