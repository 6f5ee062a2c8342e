// Package javatool runs the JDK and the JUnit Platform console launcher as
// local child processes.
package javatool

import (
	"os"
	"strings"
)

// TestAnnotation is the descriptor of the JUnit Jupiter test-case tag.
const TestAnnotation = "Lorg/junit/jupiter/api/Test;"

// Toolchain locates the binaries and jars used to compile and launch tests.
type Toolchain struct {
	Javac          string
	Java           string
	JUnitJar       string
	ExtraClasspath []string
}

func (t Toolchain) classpath(dirs ...string) string {
	parts := make([]string, 0, len(dirs)+len(t.ExtraClasspath)+1)
	for _, d := range dirs {
		if d != "" {
			parts = append(parts, d)
		}
	}
	if t.JUnitJar != "" {
		parts = append(parts, t.JUnitJar)
	}
	parts = append(parts, t.ExtraClasspath...)
	return strings.Join(parts, string(os.PathListSeparator))
}

// CompileArgs returns the javac invocation that writes classes for sourcePath into outputDir.
func (t Toolchain) CompileArgs(sourcePath, outputDir string) []string {
	args := []string{t.Javac, "-encoding", "UTF-8", "-d", outputDir}
	if cp := t.classpath(); cp != "" {
		args = append(args, "-cp", cp)
	}
	return append(args, sourcePath)
}

// LaunchArgs returns the console launcher invocation that runs the named classes
// found under classDir.
func (t Toolchain) LaunchArgs(classDir string, classes []string) []string {
	args := []string{
		t.Java, "-jar", t.JUnitJar, "execute",
		"--disable-banner",
		"--disable-ansi-colors",
		"--details=summary",
		"--class-path", t.classpathWithoutLauncher(classDir),
	}
	for _, c := range classes {
		args = append(args, "--select-class", c)
	}
	return args
}

// The launcher jar is already on the JVM classpath through -jar.
func (t Toolchain) classpathWithoutLauncher(classDir string) string {
	parts := append([]string{classDir}, t.ExtraClasspath...)
	return strings.Join(parts, string(os.PathListSeparator))
}
