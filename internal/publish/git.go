package publish

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Publisher pushes a regenerated artifact to wherever the dashboard is
// served from.
type Publisher interface {
	Publish(ctx context.Context, path, message string) error
}

// Git publishes by committing the artifact in a git checkout and pushing.
type Git struct {
	repoDir string
	remote  string
	branch  string
	binPath string
}

// NewGit creates a Git publisher for the checkout at repoDir.
func NewGit(repoDir, remote, branch string) *Git {
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		branch = "main"
	}
	return &Git{repoDir: repoDir, remote: remote, branch: branch, binPath: "git"}
}

// Publish stages path, commits it with message and pushes. A path with no
// staged difference is not an error; it is pushed only when HEAD holds
// commits the remote branch lacks, as after a failed push.
func (g *Git) Publish(ctx context.Context, path, message string) error {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(g.repoDir, path)
		if err != nil || strings.HasPrefix(r, "..") {
			return eris.Errorf("publish: %s is outside repo %s", path, g.repoDir)
		}
		rel = r
	}

	if _, err := g.run(ctx, "add", "--", rel); err != nil {
		return err
	}
	// diff --cached --quiet exits 1 when something is staged.
	if _, err := g.run(ctx, "diff", "--cached", "--quiet", "--", rel); err == nil {
		ahead, err := g.ahead(ctx)
		if err != nil || !ahead {
			return err
		}
		return g.push(ctx)
	}
	if _, err := g.run(ctx, "commit", "-m", message, "--", rel); err != nil {
		return err
	}
	return g.push(ctx)
}

func (g *Git) push(ctx context.Context) error {
	_, err := g.run(ctx, "push", g.remote, "HEAD:"+g.branch)
	return err
}

// ahead reports whether HEAD has commits that remote/branch does not. A
// remote branch that was never fetched or pushed counts as behind.
func (g *Git) ahead(ctx context.Context) (bool, error) {
	if _, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		return false, nil // unborn branch
	}
	out, err := g.run(ctx, "rev-list", "--count", g.remote+"/"+g.branch+"..HEAD")
	if err != nil {
		return true, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, eris.Wrapf(err, "publish: parse rev-list count %q", out)
	}
	return n > 0, nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binPath, args...)
	cmd.Dir = g.repoDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "publish: git %s failed: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
