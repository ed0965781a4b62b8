package environment

import (
	"context"
	"os"
	"path/filepath"

	"github.com/valksor/go-cproj/internal/metadata"
)

// Java compiles maven or gradle projects so dependencies are resolved.
type Java struct{}

// NewJava creates the java kind.
func NewJava() *Java {
	return &Java{}
}

// Name returns the kind identifier.
func (j *Java) Name() string {
	return "java"
}

// Detect looks for pom.xml or a gradle build file.
func (j *Java) Detect(dir string) bool {
	return anyExists(dir, "pom.xml", "build.gradle", "build.gradle.kts")
}

// Reconcile runs the project's wrapper, falling back to a system install.
// Compiling is a safe refresh, so it runs on every call.
func (j *Java) Reconcile(ctx context.Context, t Target, tools *Toolbox) *Result {
	ws := t.Workspace
	env := &metadata.JavaEnv{Build: "none", Manager: "none"}
	res := &Result{Java: env}

	var wrapper, system string
	var args []string
	if fileExists(filepath.Join(ws, "pom.xml")) {
		env.Build = "maven"
		wrapper, system = "mvnw", "mvn"
		args = []string{"compile", "-DskipTests", "-q"}
	} else {
		env.Build = "gradle"
		wrapper, system = "gradlew", "gradle"
		args = []string{"compileJava", "-q"}
	}

	bin := ""
	switch {
	case executable(filepath.Join(ws, wrapper)):
		bin = filepath.Join(ws, wrapper)
		env.Manager = wrapper
	case tools.Has(system):
		if fileExists(filepath.Join(ws, wrapper)) {
			res.warn(ctx, wrapper+" is not executable, falling back to "+system)
		}
		bin = system
		env.Manager = system
	default:
		res.warn(ctx, "neither ./"+wrapper+" nor "+system+" found, skipping java setup")
		res.Outcome = OutcomeSkipped

		return res
	}

	res.Tool = env.Manager
	if res.Err = tools.Run(ctx, t, ws, bin, args...); res.Err != nil {
		return res
	}

	env.Active = true
	res.Outcome = OutcomeInstalled

	return res
}

func executable(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}
