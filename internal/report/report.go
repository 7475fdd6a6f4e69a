// Package report turns raw test result files into JUnit-style XML reports.
package report

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/buckleypaul/bmtf/internal/deploy"
	"github.com/buckleypaul/bmtf/internal/metrics"
)

// Outcome is a single test verdict.
type Outcome string

const (
	Pass Outcome = "PASS"
	Fail Outcome = "FAIL"
	Skip Outcome = "SKIP"
)

func (o Outcome) valid() bool {
	return o == Pass || o == Fail || o == Skip
}

// Result is the outcome of one named test.
type Result struct {
	Name    string
	Outcome Outcome
}

// Results keeps tests in first-seen order. A repeated test name keeps its
// position and takes the later outcome.
type Results []Result

func (rs Results) set(name string, o Outcome) Results {
	for i := range rs {
		if rs[i].Name == name {
			rs[i].Outcome = o
			return rs
		}
	}
	return append(rs, Result{Name: name, Outcome: o})
}

// Count returns how many results have outcome o.
func (rs Results) Count(o Outcome) int {
	n := 0
	for _, r := range rs {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// ParseReader reads "name: OUTCOME" lines. Lines without a colon or with an
// unknown outcome are ignored.
func ParseReader(r io.Reader) (Results, error) {
	var rs Results
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name, outcome, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		o := Outcome(strings.TrimSpace(outcome))
		if !o.valid() {
			continue
		}
		rs = rs.set(strings.TrimSpace(name), o)
	}
	return rs, sc.Err()
}

// Parse reads a result file.
func Parse(path string) (Results, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rs, err := ParseReader(f)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "parse %s", path)
	}
	return rs, nil
}

// SuiteName is the result file's base name without the result suffix.
func SuiteName(resultFile string) string {
	return strings.TrimSuffix(filepath.Base(resultFile), deploy.ResultSuffix)
}

type testSuites struct {
	XMLName xml.Name    `xml:"testsuites"`
	Suites  []testSuite `xml:"testsuite"`
}

type testSuite struct {
	Name     string     `xml:"name,attr"`
	Tests    int        `xml:"tests,attr"`
	Failures int        `xml:"failures,attr"`
	Skipped  int        `xml:"skipped,attr"`
	Cases    []testCase `xml:"testcase"`
}

type marker struct{}

type testCase struct {
	Name    string  `xml:"name,attr"`
	Failure *marker `xml:"failure"`
	Skipped *marker `xml:"skipped"`
}

// Render produces the report document of one suite.
func Render(suite string, rs Results) ([]byte, error) {
	ts := testSuite{
		Name:     suite,
		Tests:    len(rs),
		Failures: rs.Count(Fail),
		Skipped:  rs.Count(Skip),
	}
	for _, r := range rs {
		tc := testCase{Name: r.Name}
		switch r.Outcome {
		case Fail:
			tc.Failure = &marker{}
		case Skip:
			tc.Skipped = &marker{}
		}
		ts.Cases = append(ts.Cases, tc)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(testSuites{Suites: []testSuite{ts}}); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return selfClose(buf.Bytes()), nil
}

// selfClose writes the empty outcome markers as <failure/> and <skipped/>.
func selfClose(doc []byte) []byte {
	doc = bytes.ReplaceAll(doc, []byte("<failure></failure>"), []byte("<failure/>"))
	return bytes.ReplaceAll(doc, []byte("<skipped></skipped>"), []byte("<skipped/>"))
}

// Written describes one generated report.
type Written struct {
	Suite   string
	Path    string
	Results Results
}

// WriteAll renders one <suite>.xml per result file into outDir. Every file
// is attempted; failures are joined.
func WriteAll(resultFiles []string, outDir string) ([]Written, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var (
		out  []Written
		errs []error
	)
	for _, file := range resultFiles {
		suite := SuiteName(file)
		rs, err := Parse(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		doc, err := Render(suite, rs)
		if err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "render %s", suite))
			continue
		}
		path := filepath.Join(outDir, suite+".xml")
		if err := os.WriteFile(path, doc, 0o644); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range rs {
			metrics.TestOutcome(suite, string(r.Outcome))
		}
		out = append(out, Written{Suite: suite, Path: path, Results: rs})
	}
	return out, errors.Join(errs...)
}
