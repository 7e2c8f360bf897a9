package payload

import (
	"bytes"
	"fmt"
	"net/url"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
)

var sanitizedSprigFuncMap = sprig.GenericFuncMap()

func init() {
	delete(sanitizedSprigFuncMap, "env")
	delete(sanitizedSprigFuncMap, "expandenv")
	delete(sanitizedSprigFuncMap, "getHostByName")
	sanitizedSprigFuncMap["urlQueryEscape"] = url.QueryEscape
	sanitizedSprigFuncMap["ellipsis"] = func(max int, s string) string { return Truncate(s, max) }
	sanitizedSprigFuncMap["shortSha"] = shortSha
}

func shortSha(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// Render executes a feature supplied context or description template. Missing
// keys render as errors so misspelled fields surface at validation time.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.New("").Funcs(sanitizedSprigFuncMap).Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
