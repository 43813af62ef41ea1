package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// ParseError reports a malformed workout file. Line is 1-based for plain
// text files and zero otherwise.
type ParseError struct {
	Path string
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse workout")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	b.WriteString(": " + e.Msg)
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser turns the contents of a workout file into a Spec. Parsers only
// check shape; limits are enforced later by workout.Validate. Language is
// left empty when the file does not set one.
type Parser interface {
	Parse(data []byte) (*workout.Spec, error)
}

// ParserFor picks a parser from a file extension: .txt is plain text,
// .yml and .yaml are YAML, anything else is JSON.
func ParserFor(ext string) Parser {
	switch strings.ToLower(ext) {
	case ".txt":
		return TextParser{}
	case ".yml", ".yaml":
		return YAMLParser{}
	default:
		return JSONParser{}
	}
}

// ParseFile reads and parses the workout file at path.
func ParseFile(path string) (*workout.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workout file: %w", err)
	}
	spec, err := ParserFor(filepath.Ext(path)).Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return spec, nil
}

// JSONParser reads {"instructions": [...], "language": ..., "background_urls": ...}.
type JSONParser struct{}

func (JSONParser) Parse(data []byte) (*workout.Spec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Msg: "invalid JSON", Err: err}
	}
	return fromDocument(doc)
}

// YAMLParser reads the same document shape as JSONParser.
type YAMLParser struct{}

func (YAMLParser) Parse(data []byte) (*workout.Spec, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Msg: "invalid YAML", Err: err}
	}
	return fromDocument(doc)
}

// fromDocument converts a decoded JSON or YAML document. Instructions may
// be bare strings or {text, duration_seconds} objects; background_urls may
// be a single string or a list.
func fromDocument(doc interface{}) (*workout.Spec, error) {
	root, ok := doc.(map[string]interface{})
	if !ok {
		return nil, &ParseError{Msg: "workout must be an object with an 'instructions' field"}
	}

	raw, ok := root["instructions"]
	if !ok {
		return nil, &ParseError{Msg: "workout must contain an 'instructions' field"}
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, &ParseError{Msg: "'instructions' must be an array"}
	}

	spec := &workout.Spec{Instructions: make([]workout.Instruction, 0, len(items))}
	for i, item := range items {
		in, err := instruction(i, item)
		if err != nil {
			return nil, err
		}
		spec.Instructions = append(spec.Instructions, in)
	}

	if v, ok := root["language"]; ok {
		lang, ok := v.(string)
		if !ok {
			return nil, &ParseError{Msg: "'language' must be a string"}
		}
		spec.Language = lang
	}

	if v, ok := root["background_urls"]; ok && v != nil {
		switch urls := v.(type) {
		case string:
			spec.BackgroundURLs = []string{urls}
		case []interface{}:
			for i, u := range urls {
				s, ok := u.(string)
				if !ok {
					return nil, &ParseError{Msg: fmt.Sprintf("background URL %d must be a string", i)}
				}
				spec.BackgroundURLs = append(spec.BackgroundURLs, s)
			}
		default:
			return nil, &ParseError{Msg: "'background_urls' must be a string or an array of strings"}
		}
	}
	return spec, nil
}

func instruction(i int, item interface{}) (workout.Instruction, error) {
	switch v := item.(type) {
	case string:
		return workout.Instruction{Text: v, DurationSeconds: workout.DefaultDurationSeconds}, nil
	case map[string]interface{}:
		rawText, ok := v["text"]
		if !ok {
			return workout.Instruction{}, &ParseError{Msg: fmt.Sprintf("instruction %d is missing 'text'", i)}
		}
		text, ok := rawText.(string)
		if !ok {
			return workout.Instruction{}, &ParseError{Msg: fmt.Sprintf("instruction %d 'text' must be a string", i)}
		}
		duration := workout.DefaultDurationSeconds
		if rawDuration, ok := v["duration_seconds"]; ok {
			n, ok := integer(rawDuration)
			if !ok {
				return workout.Instruction{}, &ParseError{Msg: fmt.Sprintf("instruction %d 'duration_seconds' must be an integer", i)}
			}
			duration = n
		}
		return workout.Instruction{Text: text, DurationSeconds: duration}, nil
	default:
		return workout.Instruction{}, &ParseError{Msg: fmt.Sprintf("instruction %d must be a string or an object", i)}
	}
}

// integer accepts whole numbers as decoded by encoding/json (json.Number)
// or yaml.v3 (int).
func integer(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// TextParser reads one instruction per line as "text | seconds" or just
// "text" for the default duration. Lines starting with # are comments;
// "# language: xx" and "# background: url" are directives.
type TextParser struct{}

func (TextParser) Parse(data []byte) (*workout.Spec, error) {
	spec := &workout.Spec{}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			directive(spec, strings.TrimSpace(line[1:]))
			continue
		}

		if strings.Contains(line, "|") {
			parts := strings.Split(line, "|")
			if len(parts) != 2 {
				return nil, &ParseError{Line: lineNo, Msg: "expected 'instruction text | duration'"}
			}
			durationPart := strings.TrimSpace(stripComment(parts[1]))
			duration, err := strconv.Atoi(durationPart)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("invalid duration %q", strings.TrimSpace(parts[1]))}
			}
			spec.Instructions = append(spec.Instructions, workout.Instruction{
				Text:            strings.TrimSpace(parts[0]),
				DurationSeconds: duration,
			})
			continue
		}

		if text := strings.TrimSpace(stripComment(line)); text != "" {
			spec.Instructions = append(spec.Instructions, workout.Instruction{
				Text:            text,
				DurationSeconds: workout.DefaultDurationSeconds,
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Line: lineNo, Msg: "read failed", Err: err}
	}
	return spec, nil
}

func directive(spec *workout.Spec, body string) {
	key, value, ok := strings.Cut(body, ":")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "language":
		spec.Language = value
	case "background", "background_url", "background_urls":
		spec.BackgroundURLs = append(spec.BackgroundURLs, value)
	}
}

func stripComment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}
