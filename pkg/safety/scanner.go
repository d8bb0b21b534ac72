package safety

import (
	"fmt"
	"strings"

	gotreesitter "github.com/odvcencio/gotreesitter"
	"github.com/odvcencio/gotreesitter/grammars"
	classify "github.com/odvcencio/gts-suite/pkg/lang/treesitter"
)

// SourceAnalyzer produces capability detections and syntax findings for
// one source language. The delta and classification logic upstream is
// language-agnostic; adding a language means registering another
// analyzer, not touching the checker.
type SourceAnalyzer interface {
	// Language returns the lowercase grammar name this analyzer covers.
	Language() string
	// Scan walks source and reports capability detections.
	Scan(path string, source []byte) ([]Detection, error)
	// CheckSyntax reports parse problems as human-readable strings,
	// empty when the file parses cleanly.
	CheckSyntax(path string, source []byte) []string
}

// DetectLanguage returns the lowercase grammar name for a filename, or
// "" when the file is not a recognized source language.
func DetectLanguage(filename string) string {
	entry := grammars.DetectLanguage(filename)
	if entry == nil {
		return ""
	}
	return strings.ToLower(entry.Name)
}

// languageRules are the per-language pattern tables driving the
// tree-sitter analyzer.
type languageRules struct {
	callNodeTypes map[string]bool

	evalCalls        map[string]bool
	subprocessCalls  map[string]bool
	networkCalls     map[string]bool
	deserializeCalls map[string]bool
	// deserializeReceivers limits deserializeCalls to dotted calls on
	// these modules (pickle.loads yes, json.loads no).
	deserializeReceivers map[string]bool

	subprocessModules  map[string]bool
	networkModules     map[string]bool
	socketModules      map[string]bool
	deserializeModules map[string]bool

	// openCall is the file-open builtin whose access-mode argument
	// classifies the detection as read or write; "" disables it.
	openCall string
}

var pythonRules = languageRules{
	callNodeTypes: map[string]bool{"call": true},
	evalCalls: map[string]bool{
		"eval": true, "exec": true, "compile": true, "__import__": true,
	},
	subprocessCalls: map[string]bool{
		"system": true, "popen": true, "spawn": true, "run": true,
		"call": true, "check_output": true, "check_call": true,
	},
	networkCalls: map[string]bool{
		"urlopen": true, "request": true, "get": true, "post": true, "connect": true,
	},
	deserializeCalls:     map[string]bool{"loads": true, "load": true, "dumps": true, "dump": true},
	deserializeReceivers: map[string]bool{"pickle": true, "dill": true, "shelve": true},
	subprocessModules:    map[string]bool{"subprocess": true, "os": true},
	networkModules: map[string]bool{
		"urllib": true, "urllib2": true, "urllib3": true, "requests": true, "httpx": true,
	},
	socketModules:      map[string]bool{"socket": true, "socketserver": true},
	deserializeModules: map[string]bool{"pickle": true, "dill": true, "shelve": true},
	openCall:           "open",
}

var goRules = languageRules{
	callNodeTypes: map[string]bool{"call_expression": true},
	evalCalls:     map[string]bool{},
	subprocessCalls: map[string]bool{
		"Command": true, "CommandContext": true, "StartProcess": true,
	},
	networkCalls: map[string]bool{
		"Get": true, "Post": true, "Do": true, "Dial": true, "DialContext": true,
	},
	deserializeCalls:     map[string]bool{},
	deserializeReceivers: map[string]bool{},
	subprocessModules:    map[string]bool{"os/exec": true},
	networkModules:       map[string]bool{"net/http": true},
	socketModules:        map[string]bool{"net": true},
	deserializeModules:   map[string]bool{"encoding/gob": true},
	openCall:             "",
}

// treeSitterAnalyzer scans one language with its rule table. Parsing
// goes through the shared grammar registry; the import node types come
// from the gts-suite classification tables the grammars share.
type treeSitterAnalyzer struct {
	language string
	rules    languageRules
}

var _ SourceAnalyzer = (*treeSitterAnalyzer)(nil)

// NewPythonAnalyzer returns the analyzer for Python sources.
func NewPythonAnalyzer() SourceAnalyzer {
	return &treeSitterAnalyzer{language: "python", rules: pythonRules}
}

// NewGoAnalyzer returns the analyzer for Go sources.
func NewGoAnalyzer() SourceAnalyzer {
	return &treeSitterAnalyzer{language: "go", rules: goRules}
}

func (a *treeSitterAnalyzer) Language() string {
	return a.language
}

func (a *treeSitterAnalyzer) Scan(path string, source []byte) ([]Detection, error) {
	bt, err := grammars.ParseFile(path, source)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	defer bt.Release()

	lines := strings.Split(string(source), "\n")
	var detections []Detection

	add := func(node *gotreesitter.Node, cap Capability) {
		line := int(node.StartPoint().Row) + 1
		snippet := ""
		if line >= 1 && line <= len(lines) {
			snippet = strings.TrimSpace(lines[line-1])
		}
		detections = append(detections, Detection{
			Capability: cap,
			Path:       path,
			Line:       line,
			Snippet:    snippet,
		})
	}

	var walk func(node *gotreesitter.Node)
	walk = func(node *gotreesitter.Node) {
		if node == nil {
			return
		}
		nodeType := bt.NodeType(node)

		switch {
		case a.rules.callNodeTypes[nodeType]:
			a.scanCall(bt, node, add)
		case classify.ImportNodeTypes[nodeType]:
			a.scanImport(bt, node, add)
		}

		for i := 0; i < node.ChildCount(); i++ {
			walk(node.Child(i))
		}
	}
	walk(bt.RootNode())

	return detections, nil
}

// scanCall inspects a call node: its callee text decides the
// capability, with dotted receivers consulted for deserialization.
func (a *treeSitterAnalyzer) scanCall(bt *gotreesitter.BoundTree, node *gotreesitter.Node, add func(*gotreesitter.Node, Capability)) {
	callee := node.Child(0)
	if callee == nil {
		return
	}
	full := bt.NodeText(callee)
	name := full
	receiver := ""
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		name = full[idx+1:]
		receiver = full[:idx]
		if ridx := strings.LastIndex(receiver, "."); ridx >= 0 {
			receiver = receiver[ridx+1:]
		}
	}

	switch {
	case a.rules.evalCalls[name]:
		add(node, CapabilityEval)
	case a.rules.deserializeCalls[name] && a.rules.deserializeReceivers[receiver]:
		add(node, CapabilityDeserialize)
	case a.rules.subprocessCalls[name]:
		add(node, CapabilitySubprocess)
	case a.rules.networkCalls[name]:
		add(node, CapabilityNetwork)
	case a.rules.openCall != "" && name == a.rules.openCall && receiver == "":
		add(node, a.classifyOpenMode(bt, node))
	}
}

// classifyOpenMode reads the access-mode argument of a file-open call:
// modes containing w/a/+ are writes, everything else is a read.
func (a *treeSitterAnalyzer) classifyOpenMode(bt *gotreesitter.BoundTree, call *gotreesitter.Node) Capability {
	// Arguments are the call's second child (argument_list).
	args := call.Child(1)
	if args == nil {
		return CapabilityFilesystemRead
	}
	argIndex := 0
	for i := 0; i < args.NamedChildCount(); i++ {
		arg := args.NamedChild(i)
		if arg == nil {
			continue
		}
		argIndex++
		if argIndex != 2 {
			continue
		}
		mode := strings.Trim(bt.NodeText(arg), `"'`)
		if strings.ContainsAny(mode, "wa+") {
			return CapabilityFilesystemWrite
		}
		return CapabilityFilesystemRead
	}
	return CapabilityFilesystemRead
}

// scanImport matches watched module names inside an import statement's
// text. Module paths are compared as whole tokens so "os" does not match
// "osquery".
func (a *treeSitterAnalyzer) scanImport(bt *gotreesitter.BoundTree, node *gotreesitter.Node, add func(*gotreesitter.Node, Capability)) {
	text := bt.NodeText(node)
	tokens := splitImportTokens(text)

	seen := map[Capability]bool{}
	report := func(cap Capability) {
		if !seen[cap] {
			seen[cap] = true
			add(node, cap)
		}
	}

	for _, tok := range tokens {
		base := tok
		if idx := strings.Index(tok, "."); idx >= 0 {
			base = tok[:idx]
		}
		switch {
		case a.rules.subprocessModules[tok] || a.rules.subprocessModules[base]:
			report(CapabilitySubprocess)
		case a.rules.socketModules[tok] || a.rules.socketModules[base]:
			report(CapabilitySocket)
		case a.rules.deserializeModules[tok] || a.rules.deserializeModules[base]:
			report(CapabilityDeserialize)
		case a.rules.networkModules[tok] || a.rules.networkModules[base]:
			report(CapabilityNetwork)
		}
	}
}

func splitImportTokens(text string) []string {
	f := func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', '(', ')', ';', '"', '`', '\'':
			return true
		}
		return false
	}
	var tokens []string
	for _, tok := range strings.FieldsFunc(text, f) {
		if tok == "import" || tok == "from" || tok == "as" {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// CheckSyntax parses the file and reports tree-sitter ERROR nodes.
func (a *treeSitterAnalyzer) CheckSyntax(path string, source []byte) []string {
	bt, err := grammars.ParseFile(path, source)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", path, err)}
	}
	defer bt.Release()

	var errs []string
	var walk func(node *gotreesitter.Node)
	walk = func(node *gotreesitter.Node) {
		if node == nil {
			return
		}
		if bt.NodeType(node) == "ERROR" {
			line := int(node.StartPoint().Row) + 1
			errs = append(errs, fmt.Sprintf("%s:%d: syntax error", path, line))
			return // one finding per error subtree
		}
		for i := 0; i < node.ChildCount(); i++ {
			walk(node.Child(i))
		}
	}
	walk(bt.RootNode())
	return errs
}
