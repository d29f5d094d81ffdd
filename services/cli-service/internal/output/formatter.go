package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v2"
)

// FormatType представляет тип форматирования вывода
type FormatType string

const (
	FormatTable FormatType = "table"
	FormatJSON  FormatType = "json"
	FormatYAML  FormatType = "yaml"
)

// TableData данные для табличного вывода
type TableData struct {
	Headers []string
	Rows    [][]string
}

// NewTableData создает таблицу с заголовками
func NewTableData(headers ...string) *TableData {
	return &TableData{Headers: headers}
}

// AddRow добавляет строку
func (td *TableData) AddRow(cells ...string) *TableData {
	td.Rows = append(td.Rows, cells)
	return td
}

// Tabular значение, которое умеет представить себя таблицей
type Tabular interface {
	Table() *TableData
}

// Printer печатает результаты команд в выбранном формате
type Printer struct {
	w      io.Writer
	format FormatType
}

// NewPrinter создает Printer, неизвестный формат считается таблицей
func NewPrinter(w io.Writer, format string) *Printer {
	f := FormatType(strings.ToLower(format))
	switch f {
	case FormatJSON, FormatYAML:
	default:
		f = FormatTable
	}
	return &Printer{w: w, format: f}
}

// Print выводит v. Для таблицы v должен реализовать Tabular,
// иначе печатается fmt-представление.
func (p *Printer) Print(v interface{}) error {
	switch p.format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(p.w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = p.w.Write(data)
		return err
	}

	t, ok := v.(Tabular)
	if !ok {
		_, err := fmt.Fprintln(p.w, v)
		return err
	}
	return writeTable(p.w, t.Table())
}

func writeTable(w io.Writer, td *TableData) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(td.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(td.Headers, "\t"))
		separators := make([]string, len(td.Headers))
		for i, h := range td.Headers {
			separators[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(tw, strings.Join(separators, "\t"))
	}
	for _, row := range td.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
