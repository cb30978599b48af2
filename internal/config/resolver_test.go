package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/temirov/htmltidy/internal/options"
)

func baseOptions() *options.Set {
	base := options.NewSet()
	base.Put("indent", options.Bool(true))
	base.Put("wrap", options.Int(120))
	return base
}

func TestResolveOptions(t *testing.T) {
	testCases := []struct {
		name          string
		override      []byte
		expectOptions []string
		expectFailure bool
	}{
		{
			name:          "no_override_keeps_base",
			override:      nil,
			expectOptions: []string{"--indent", "yes", "--wrap", "120"},
		},
		{
			name:          "override_replaces_base",
			override:      []byte(`{"showBodyOnly": true, "wrap": 0}`),
			expectOptions: []string{"--show-body-only", "yes", "--wrap", "0"},
		},
		{
			name:          "empty_object_replaces_base",
			override:      []byte(`{}`),
			expectOptions: []string{},
		},
		{
			name:          "malformed_override_falls_back",
			override:      []byte(`{"wrap": `),
			expectOptions: []string{"--indent", "yes", "--wrap", "120"},
			expectFailure: true,
		},
		{
			name:          "empty_file_falls_back",
			override:      []byte{},
			expectOptions: []string{"--indent", "yes", "--wrap", "120"},
			expectFailure: true,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			base := baseOptions()
			resolved, err := ResolveOptions(base, testCase.override)
			var failure *ConfigParseFailure
			if testCase.expectFailure != errors.As(err, &failure) {
				t.Fatalf("unexpected error %v", err)
			}
			arguments := mustSerialize(t, resolved)
			if len(arguments) == 0 {
				arguments = []string{}
			}
			if !reflect.DeepEqual(arguments, testCase.expectOptions) {
				t.Fatalf("expected %q, got %q", testCase.expectOptions, arguments)
			}
			resolved.Put("quiet", options.Bool(true))
			if _, found := base.Get("quiet"); found {
				t.Fatalf("resolved options share storage with base")
			}
		})
	}
}

func writeOverride(t *testing.T, directory string, content string) string {
	t.Helper()
	path := filepath.Join(directory, defaultOverrideFile)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}
	return path
}

func resolverSettings(workspaceRoot string, fileSearch bool) Settings {
	settings := DefaultSettings()
	settings.WorkspaceRoot = workspaceRoot
	settings.OptionsTidy = baseOptions()
	settings.FileSearch.Enabled = fileSearch
	return settings
}

func TestResolverUsesWorkspaceOverride(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeOverride(t, workspaceRoot, `{"indentSpaces": 2}`)
	nestedDirectory := filepath.Join(workspaceRoot, "pages", "blog")
	if err := os.MkdirAll(nestedDirectory, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeOverride(t, nestedDirectory, `{"wrap": 40}`)

	resolver := NewResolver(resolverSettings(workspaceRoot, false), nil)
	resolved, err := resolver.Options(filepath.Join(nestedDirectory, "post.html"))
	if err != nil {
		t.Fatalf("Options error: %v", err)
	}
	if arguments := mustSerialize(t, resolved); !reflect.DeepEqual(arguments, []string{"--indent-spaces", "2"}) {
		t.Fatalf("expected workspace override, got %q", arguments)
	}
}

func TestResolverSearchesParentDirectories(t *testing.T) {
	workspaceRoot := t.TempDir()
	overridePath := writeOverride(t, workspaceRoot, `{"indentSpaces": 2}`)
	nestedDirectory := filepath.Join(workspaceRoot, "pages", "blog")
	if err := os.MkdirAll(nestedDirectory, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	documentPath := filepath.Join(nestedDirectory, "post.html")

	resolver := NewResolver(resolverSettings(t.TempDir(), true), nil)
	resolved, err := resolver.Options(documentPath)
	if err != nil {
		t.Fatalf("Options error: %v", err)
	}
	if arguments := mustSerialize(t, resolved); !reflect.DeepEqual(arguments, []string{"--indent-spaces", "2"}) {
		t.Fatalf("expected parent override, got %q", arguments)
	}
	if source := resolver.OverrideSource(documentPath); source != overridePath {
		t.Fatalf("expected override source %s, got %s", overridePath, source)
	}
}

func TestResolverCachesUntilRefresh(t *testing.T) {
	workspaceRoot := t.TempDir()
	overridePath := writeOverride(t, workspaceRoot, `{"wrap": 10}`)
	resolver := NewResolver(resolverSettings(workspaceRoot, false), nil)

	first, err := resolver.Options("")
	if err != nil {
		t.Fatalf("Options error: %v", err)
	}
	first.Put("mutated", options.Bool(true))

	if err := os.WriteFile(overridePath, []byte(`{"wrap": 20}`), 0o600); err != nil {
		t.Fatalf("rewrite override: %v", err)
	}
	cached, _ := resolver.Options("")
	if arguments := mustSerialize(t, cached); !reflect.DeepEqual(arguments, []string{"--wrap", "10"}) {
		t.Fatalf("expected cached options, got %q", arguments)
	}

	resolver.Refresh(resolverSettings(workspaceRoot, false))
	refreshed, _ := resolver.Options("")
	if arguments := mustSerialize(t, refreshed); !reflect.DeepEqual(arguments, []string{"--wrap", "20"}) {
		t.Fatalf("expected refreshed options, got %q", arguments)
	}
}

func TestResolverReportsParseFailureOnce(t *testing.T) {
	workspaceRoot := t.TempDir()
	overridePath := writeOverride(t, workspaceRoot, `{"wrap": `)
	resolver := NewResolver(resolverSettings(workspaceRoot, false), nil)

	resolved, err := resolver.Options("")
	var failure *ConfigParseFailure
	if !errors.As(err, &failure) || failure.Source != overridePath {
		t.Fatalf("expected ConfigParseFailure for %s, got %v", overridePath, err)
	}
	if arguments := mustSerialize(t, resolved); !reflect.DeepEqual(arguments, []string{"--indent", "yes", "--wrap", "120"}) {
		t.Fatalf("expected base options on failure, got %q", arguments)
	}
	if _, repeatErr := resolver.Options(""); repeatErr != nil {
		t.Fatalf("expected cached resolution without repeated failure, got %v", repeatErr)
	}
}

func TestResolverConcurrentAccess(t *testing.T) {
	workspaceRoot := t.TempDir()
	writeOverride(t, workspaceRoot, `{"wrap": 10}`)
	resolver := NewResolver(resolverSettings(workspaceRoot, false), nil)

	var waitGroup sync.WaitGroup
	for workerIndex := 0; workerIndex < 8; workerIndex++ {
		waitGroup.Add(1)
		go func(workerIndex int) {
			defer waitGroup.Done()
			for iteration := 0; iteration < 50; iteration++ {
				if workerIndex == 0 && iteration%10 == 0 {
					resolver.Refresh(resolverSettings(workspaceRoot, false))
					continue
				}
				resolved, _ := resolver.Options("")
				resolved.Put("indent", options.Bool(false))
			}
		}(workerIndex)
	}
	waitGroup.Wait()

	resolved, err := resolver.Options("")
	if err != nil {
		t.Fatalf("Options error: %v", err)
	}
	if arguments := mustSerialize(t, resolved); !reflect.DeepEqual(arguments, []string{"--wrap", "10"}) {
		t.Fatalf("concurrent callers mutated cached options: %q", arguments)
	}
}
