package demo

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"text/template"
)

const (
	pyodideIndexURL = "https://cdn.jsdelivr.net/pyodide/v0.26.4/full/"
	pygameShimDir   = "/lib/python3.12/site-packages/pygame"
	markdownCDN     = "https://cdn.jsdelivr.net/npm/marked@12.0.2/marked.min.js"
)

//go:embed assets/python.html.tmpl assets/markdown.html.tmpl assets/pygame_shim.py
var assets embed.FS

var (
	pythonPage   = template.Must(template.ParseFS(assets, "assets/python.html.tmpl"))
	markdownPage = template.Must(template.ParseFS(assets, "assets/markdown.html.tmpl"))
	pygameShim   = mustRead("assets/pygame_shim.py")

	pygameImport = regexp.MustCompile(`(?m)^(?:import\s+pygame|from\s+pygame)`)
	numpyImport  = regexp.MustCompile(`(?m)^(?:import\s+numpy|from\s+numpy)`)
	anyImport    = regexp.MustCompile(`(?m)^(?:import|from)\s+(\w+)`)
)

// Modules that ship with the interpreter, are loaded from the Pyodide
// distribution, or are provided by the shim. Everything else is pip installed.
var bundledModules = toSet(
	"sys", "os", "io", "math", "random", "json", "re", "time", "datetime",
	"collections", "itertools", "functools", "string", "typing", "abc", "copy",
	"enum", "pathlib", "dataclasses", "operator", "contextlib", "textwrap",
	"struct", "array", "bisect", "heapq", "statistics", "decimal", "fractions",
	"hashlib", "hmac", "secrets", "base64", "html", "xml", "csv", "configparser",
	"argparse", "logging", "unittest", "pdb", "traceback", "gc", "inspect", "dis",
	"ast", "token", "tokenize", "codecs", "unicodedata", "locale", "gettext",
	"platform", "ctypes", "threading", "multiprocessing", "subprocess", "socket",
	"ssl", "email", "http", "urllib", "ftplib", "smtplib", "uuid", "tempfile",
	"shutil", "glob", "fnmatch", "pickle", "shelve", "sqlite3", "zipfile",
	"tarfile", "gzip", "bz2", "lzma", "zlib", "pprint", "warnings", "weakref",
	"types", "importlib", "asyncio", "cmath", "colorsys", "queue", "sched",
	"pygame", "numpy", "np",
)

// Requirements is what a Python program needs before it can run in the browser.
type Requirements struct {
	Pygame      bool
	Packages    []string // loaded from the Pyodide distribution
	PipPackages []string // installed through micropip
}

// DetectRequirements scans top-level import statements.
func DetectRequirements(code string) Requirements {
	req := Requirements{
		Pygame:      pygameImport.MatchString(code),
		PipPackages: []string{},
	}

	seen := make(map[string]struct{})
	for _, m := range anyImport.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if _, ok := bundledModules[name]; ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		req.PipPackages = append(req.PipPackages, name)
	}

	req.Packages = []string{}
	if numpyImport.MatchString(code) {
		req.Packages = append(req.Packages, "numpy")
	}
	if len(req.PipPackages) > 0 {
		req.Packages = append(req.Packages, "micropip")
	}
	return req
}

type pipInstall struct {
	Name     string
	Progress int
}

type pythonPageData struct {
	IndexURL    string
	Packages    string
	PipInstalls []pipInstall
	Shim        string
	ShimDir     string
	Code        string
}

// WrapPython renders a self-contained page that boots Pyodide and runs code.
func WrapPython(code string) (string, error) {
	req := DetectRequirements(code)

	data := pythonPageData{
		IndexURL: pyodideIndexURL,
		ShimDir:  pygameShimDir,
	}

	var err error
	if data.Code, err = jsString(code); err != nil {
		return "", err
	}
	if len(req.Packages) > 0 {
		if data.Packages, err = jsString(req.Packages); err != nil {
			return "", err
		}
	}
	for i, name := range req.PipPackages {
		quoted, err := jsString(name)
		if err != nil {
			return "", err
		}
		data.PipInstalls = append(data.PipInstalls, pipInstall{
			Name:     quoted,
			Progress: 70 + (i+1)*15/(len(req.PipPackages)+1),
		})
	}
	if req.Pygame {
		if data.Shim, err = jsString(pygameShim); err != nil {
			return "", err
		}
	}

	var buf bytes.Buffer
	if err := pythonPage.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render python page: %w", err)
	}
	return buf.String(), nil
}

// WrapMarkdown renders a page that converts markdown to html in the browser.
func WrapMarkdown(source string) (string, error) {
	code, err := jsString(source)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = markdownPage.Execute(&buf, struct {
		RendererURL string
		Code        string
	}{RendererURL: markdownCDN, Code: code})
	if err != nil {
		return "", fmt.Errorf("render markdown page: %w", err)
	}
	return buf.String(), nil
}

// Render turns uploaded source into the html document stored for a demo.
func Render(demoType, code string) (string, error) {
	switch demoType {
	case TypePython:
		return WrapPython(code)
	case TypeMarkdown:
		return WrapMarkdown(code)
	default:
		return code, nil
	}
}

// jsString encodes v as a JSON literal that is safe inside a <script> element.
// json.Marshal escapes <, > and & so "</script>" cannot terminate the block.
func jsString(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode script literal: %w", err)
	}
	return string(raw), nil
}

func mustRead(name string) string {
	raw, err := assets.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
