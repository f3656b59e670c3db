package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// NewDevToolRegistry builds the registry of tools available to the
// Developer service, grounded on dev_service/tools.py's
// build_dev_tool_registry(). root is the sandbox root every path argument
// is resolved relative to.
func NewDevToolRegistry(root string) *Registry {
	r := NewRegistry()

	r.Register(Definition{
		Name: "read_file", TimeoutS: 5 * time.Second, MaxRetries: 2, Sandboxed: true,
		Tags: []string{"filesystem", "read"},
		Fn:   readFileTool(root),
	})
	r.Register(Definition{
		Name: "list_project_files", TimeoutS: 5 * time.Second, MaxRetries: 2, Sandboxed: true,
		Tags: []string{"filesystem", "read"},
		Fn:   listProjectFilesTool(root),
	})
	r.Register(Definition{
		Name: "run_tests", TimeoutS: 60 * time.Second, MaxRetries: 1, Sandboxed: true,
		Tags: []string{"execution"},
		Fn:   runTestsTool(root),
	})
	r.Register(Definition{
		Name: "python_lint", TimeoutS: 20 * time.Second, MaxRetries: 1, Sandboxed: true,
		Tags: []string{"lint", "python"},
		Fn:   pythonLintTool(root),
	})

	return r
}

func readFileTool(root string) Func {
	return func(ctx context.Context, args map[string]string) (string, error) {
		path, err := SafeJoin(root, args["path"])
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read_file: %w", err)
		}
		return string(data), nil
	}
}

func listProjectFilesTool(root string) Func {
	return func(ctx context.Context, args map[string]string) (string, error) {
		sub := args["path"]
		if sub == "" {
			sub = "."
		}
		dir, err := SafeJoin(root, sub)
		if err != nil {
			return "", err
		}
		var entries []string
		err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr == nil {
				entries = append(entries, rel)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("list_project_files: %w", err)
		}
		out := ""
		for _, e := range entries {
			out += e + "\n"
		}
		return out, nil
	}
}

func runTestsTool(root string) Func {
	return func(ctx context.Context, args map[string]string) (string, error) {
		cmdName := args["command"]
		if cmdName == "" {
			cmdName = "pytest"
		}
		cmd := exec.CommandContext(ctx, cmdName, "-q")
		cmd.Dir = root
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return out.String(), fmt.Errorf("run_tests: %w", err)
		}
		return out.String(), nil
	}
}

func pythonLintTool(root string) Func {
	return func(ctx context.Context, args map[string]string) (string, error) {
		path, err := SafeJoin(root, args["path"])
		if err != nil {
			return "", err
		}
		cmd := exec.CommandContext(ctx, "python3", "-m", "py_compile", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return out.String(), fmt.Errorf("python_lint: %w", err)
		}
		return "ok", nil
	}
}
