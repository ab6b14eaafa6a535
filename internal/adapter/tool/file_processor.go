package tool

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"localagent/internal/domain"
	"localagent/internal/security"
)

// FileProcessorID is the tool id of the file processor.
const FileProcessorID = domain.ToolFileProcessor

// Supported file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
	FormatText = "txt"
)

// FileProcessor reads, writes, deletes and lists files inside a sandbox.
// The format is taken from the params or inferred from the file extension;
// unknown extensions are treated as text.
type FileProcessor struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewFileProcessor creates a file processor confined to sandbox.
func NewFileProcessor(sandbox *security.Sandbox, logger *slog.Logger) *FileProcessor {
	return &FileProcessor{sandbox: sandbox, logger: logger}
}

func (f *FileProcessor) ID() string       { return FileProcessorID }
func (f *FileProcessor) Name() string     { return "File Processor" }
func (f *FileProcessor) Category() string { return domain.ToolCategoryFile }
func (f *FileProcessor) Description() string {
	return "Read, write, delete and list json, yaml, csv and text files in the data directory"
}

const (
	fileReadSchema = `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"format": {"type": "string", "enum": ["json", "yaml", "csv", "txt"]}
		},
		"required": ["path"]
	}`
	fileWriteSchema = `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"content": {},
			"format": {"type": "string", "enum": ["json", "yaml", "csv", "txt"]}
		},
		"required": ["path", "content"]
	}`
	filePathSchema = `{
		"type": "object",
		"properties": {
			"path": {"type": "string"}
		}
	}`
)

type fileParams struct {
	Path    string `json:"path"`
	Content any    `json:"content,omitempty"`
	Format  string `json:"format,omitempty"`
}

// FileResult is returned by every file operation.
type FileResult struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Result    any    `json:"result"`
}

// FileInfo describes one listed file.
type FileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func (f *FileProcessor) Operations() map[string]domain.Operation {
	return map[string]domain.Operation{
		"read":   Op("Read and decode a file", fileReadSchema, f.read),
		"write":  Op("Encode and write content to a file", fileWriteSchema, f.write),
		"delete": Op("Delete a file or directory", filePathSchema, f.delete),
		"list":   Op("List files under a path recursively", filePathSchema, f.list),
	}
}

func (f *FileProcessor) read(_ context.Context, p fileParams) (any, error) {
	path, err := f.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewSubSystemError("file", "FileProcessor.read", domain.ErrNotFound, p.Path)
		}
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}

	v, err := decodeFile(formatOf(path, p.Format), data)
	if err != nil {
		return nil, domain.NewSubSystemError("file", "FileProcessor.read", domain.ErrInvalidInput,
			fmt.Sprintf("%s: %v", p.Path, err))
	}
	return FileResult{Operation: "read", Path: f.sandbox.Rel(path), Result: v}, nil
}

func (f *FileProcessor) write(_ context.Context, p fileParams) (any, error) {
	path, err := f.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}
	data, err := encodeFile(formatOf(path, p.Format), p.Content)
	if err != nil {
		return nil, domain.NewSubSystemError("file", "FileProcessor.write", domain.ErrInvalidInput,
			fmt.Sprintf("%s: %v", p.Path, err))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", p.Path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.Path, err)
	}

	f.logger.Debug("file written", "path", f.sandbox.Rel(path), "bytes", len(data))
	return FileResult{
		Operation: "write",
		Path:      f.sandbox.Rel(path),
		Result:    map[string]any{"size": len(data)},
	}, nil
}

func (f *FileProcessor) delete(_ context.Context, p fileParams) (any, error) {
	if p.Path == "" || p.Path == "." {
		return nil, domain.NewSubSystemError("file", "FileProcessor.delete", domain.ErrInvalidInput,
			"refusing to delete the data directory root")
	}
	path, err := f.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}
	if path == f.sandbox.Root() {
		return nil, domain.NewSubSystemError("file", "FileProcessor.delete", domain.ErrInvalidInput,
			"refusing to delete the data directory root")
	}

	deleted := true
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		deleted = false
	} else if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("delete %s: %w", p.Path, err)
	}
	return FileResult{
		Operation: "delete",
		Path:      f.sandbox.Rel(path),
		Result:    map[string]any{"deleted": deleted},
	}, nil
}

func (f *FileProcessor) list(_ context.Context, p fileParams) (any, error) {
	if p.Path == "" {
		p.Path = "."
	}
	root, err := f.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}

	files := []FileInfo{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Name:     d.Name(),
			Path:     f.sandbox.Rel(path),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.Path, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return FileResult{Operation: "list", Path: f.sandbox.Rel(root), Result: files}, nil
}

// formatOf returns the explicit format, else one inferred from the extension.
func formatOf(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	case "csv":
		return FormatCSV
	default:
		return FormatText
	}
}

func decodeFile(format string, data []byte) (any, error) {
	switch format {
	case FormatJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case FormatCSV:
		return decodeCSV(data)
	default:
		return string(data), nil
	}
}

func encodeFile(format string, content any) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(content, "", "  ")
	case FormatYAML:
		return yaml.Marshal(content)
	case FormatCSV:
		return encodeCSV(content)
	default:
		if s, ok := content.(string); ok {
			return []byte(s), nil
		}
		return []byte(fmt.Sprint(content)), nil
	}
}

// decodeCSV reads a header row and returns one map per record.
func decodeCSV(data []byte) ([]map[string]string, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	rows := []map[string]string{}
	if len(records) == 0 {
		return rows, nil
	}
	header := records[0]
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// encodeCSV writes a list of objects; the header is the sorted key set of
// the first row.
func encodeCSV(content any) ([]byte, error) {
	list, ok := content.([]any)
	if !ok || len(list) == 0 {
		return nil, errors.New("csv content must be a non-empty list of objects")
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return nil, errors.New("csv content must be a non-empty list of objects")
	}
	header := make([]string, 0, len(first))
	for k := range first {
		header = append(header, k)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i, item := range list {
		row, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("csv row %d is not an object", i)
		}
		rec := make([]string, len(header))
		for j, col := range header {
			if v, ok := row[col]; ok && v != nil {
				rec[j] = fmt.Sprint(v)
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
