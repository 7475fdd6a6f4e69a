package report

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoResults = "unit1: PASS\nunit2: FAIL\nnote: not a result\nunit3: SKIP"

func TestParseReader(t *testing.T) {
	rs, err := ParseReader(strings.NewReader(demoResults))
	require.NoError(t, err)
	assert.Equal(t, Results{
		{Name: "unit1", Outcome: Pass},
		{Name: "unit2", Outcome: Fail},
		{Name: "unit3", Outcome: Skip},
	}, rs)
}

func TestParseIgnoresNoise(t *testing.T) {
	input := strings.Join([]string{
		"starting suite",
		"",
		"a: pass",
		"b:PASS",
		"  c :  SKIP  ",
		"d: FAIL: extra",
		"b: FAIL",
	}, "\n")
	rs, err := ParseReader(strings.NewReader(input))
	require.NoError(t, err)
	// b keeps its first position and takes its later outcome.
	assert.Equal(t, Results{{Name: "b", Outcome: Fail}, {Name: "c", Outcome: Skip}}, rs)
}

func TestParseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo_test_result")
	require.NoError(t, os.WriteFile(path, []byte(demoResults), 0o644))

	first, err := Parse(path)
	require.NoError(t, err)
	second, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = Parse(filepath.Join(t.TempDir(), "missing_test_result"))
	assert.Error(t, err)
}

func TestSuiteName(t *testing.T) {
	assert.Equal(t, "demo", SuiteName("/ws/test_results/demo_test_result"))
	assert.Equal(t, "net_stress", SuiteName("net_stress_test_result"))
	assert.Equal(t, "plain", SuiteName("plain"))
}

type parsedCase struct {
	Name    string    `xml:"name,attr"`
	Failure *struct{} `xml:"failure"`
	Skipped *struct{} `xml:"skipped"`
}

type parsedDoc struct {
	XMLName xml.Name `xml:"testsuites"`
	Suites  []struct {
		Name     string       `xml:"name,attr"`
		Tests    int          `xml:"tests,attr"`
		Failures int          `xml:"failures,attr"`
		Skipped  int          `xml:"skipped,attr"`
		Cases    []parsedCase `xml:"testcase"`
	} `xml:"testsuite"`
}

func TestRender(t *testing.T) {
	rs, err := ParseReader(strings.NewReader(demoResults))
	require.NoError(t, err)
	doc, err := Render("demo", rs)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(doc), xml.Header))

	var parsed parsedDoc
	require.NoError(t, xml.Unmarshal(doc, &parsed))
	require.Len(t, parsed.Suites, 1)
	suite := parsed.Suites[0]
	assert.Equal(t, "demo", suite.Name)
	assert.Equal(t, 3, suite.Tests)
	assert.Equal(t, 1, suite.Failures)
	assert.Equal(t, 1, suite.Skipped)

	require.Len(t, suite.Cases, 3)
	assert.Equal(t, "unit1", suite.Cases[0].Name)
	assert.Nil(t, suite.Cases[0].Failure)
	assert.Nil(t, suite.Cases[0].Skipped)
	assert.Equal(t, "unit2", suite.Cases[1].Name)
	assert.NotNil(t, suite.Cases[1].Failure)
	assert.Equal(t, "unit3", suite.Cases[2].Name)
	assert.NotNil(t, suite.Cases[2].Skipped)
	assert.NotContains(t, string(doc), "note")
}

func TestRenderDocumentShape(t *testing.T) {
	rs, err := ParseReader(strings.NewReader(demoResults))
	require.NoError(t, err)
	doc, err := Render("demo", rs)
	require.NoError(t, err)

	want := xml.Header + `<testsuites>
  <testsuite name="demo" tests="3" failures="1" skipped="1">
    <testcase name="unit1"></testcase>
    <testcase name="unit2">
      <failure/>
    </testcase>
    <testcase name="unit3">
      <skipped/>
    </testcase>
  </testsuite>
</testsuites>
`
	assert.Equal(t, want, string(doc))
}

func TestRenderEscapesNames(t *testing.T) {
	doc, err := Render(`a&b`, Results{{Name: `x<"y">`, Outcome: Pass}})
	require.NoError(t, err)
	var parsed parsedDoc
	require.NoError(t, xml.Unmarshal(doc, &parsed))
	assert.Equal(t, "a&b", parsed.Suites[0].Name)
	assert.Equal(t, `x<"y">`, parsed.Suites[0].Cases[0].Name)
}

func TestWriteAll(t *testing.T) {
	in := t.TempDir()
	demo := filepath.Join(in, "demo_test_result")
	net := filepath.Join(in, "net_test_result")
	require.NoError(t, os.WriteFile(demo, []byte(demoResults), 0o644))
	require.NoError(t, os.WriteFile(net, []byte("link: PASS\n"), 0o644))
	out := filepath.Join(t.TempDir(), "reports")

	written, err := WriteAll([]string{demo, filepath.Join(in, "gone_test_result"), net}, out)
	require.Error(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, "demo", written[0].Suite)
	assert.Equal(t, filepath.Join(out, "demo.xml"), written[0].Path)
	assert.Equal(t, "net", written[1].Suite)
	assert.FileExists(t, filepath.Join(out, "demo.xml"))
	assert.FileExists(t, filepath.Join(out, "net.xml"))
	assert.NoFileExists(t, filepath.Join(out, "gone.xml"))
}
