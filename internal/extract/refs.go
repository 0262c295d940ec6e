package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// External link plumbing inside the xlsx package. excelize exposes no
// API for external-workbook links, so the relationship parts are read
// directly from the zip container.
const (
	workbookRelsPart = "xl/_rels/workbook.xml.rels"
	externalLinkType = "/externalLink"
)

var externalLinkIndexPattern = regexp.MustCompile(`externalLink(\d+)\.xml`)

type relationships struct {
	Relationships []relationship `xml:"Relationship"`
}

type relationship struct {
	Type   string `xml:"Type,attr"`
	Target string `xml:"Target,attr"`
}

type externalLink struct {
	ExternalBook struct {
		Href string `xml:"href,attr"`
	} `xml:"externalBookPr"`
}

// ExternalRefs parses the external-workbook reference mapping of an
// xlsx file: link index n (as used in "[n]Sheet!A1" formulas) to the
// source workbook path. Unresolvable links map to the empty string.
func ExternalRefs(path string) (map[int]string, error) {
	z, err := zip.OpenReader(path)
	if err != nil {
		return nil, classifyFSError(err, path)
	}
	defer z.Close()

	relsData, readErr := readZipPart(&z.Reader, workbookRelsPart)
	if readErr != nil {
		// No relationships part means no external links.
		return map[int]string{}, nil
	}

	var rels relationships

	unmarshalErr := xml.Unmarshal(relsData, &rels)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: workbook relationships: %v", ErrCorrupt, unmarshalErr)
	}

	refs := map[int]string{}

	for _, rel := range rels.Relationships {
		if !strings.HasSuffix(rel.Type, externalLinkType) {
			continue
		}

		m := externalLinkIndexPattern.FindStringSubmatch(rel.Target)
		if m == nil {
			continue
		}

		index, _ := strconv.Atoi(m[1])
		refs[index] = linkTarget(&z.Reader, rel.Target)
	}

	return refs, nil
}

// linkTarget resolves the source workbook path of one external link
// part, best-effort.
func linkTarget(z *zip.Reader, target string) string {
	data, err := readZipPart(z, "xl/"+target)
	if err != nil {
		return ""
	}

	var link externalLink

	unmarshalErr := xml.Unmarshal(data, &link)
	if unmarshalErr != nil {
		return ""
	}

	return link.ExternalBook.Href
}

// maxPartSize bounds relationship part reads; these parts are tiny in
// well-formed files.
const maxPartSize = 4 << 20

func readZipPart(z *zip.Reader, name string) ([]byte, error) {
	f, err := z.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(io.LimitReader(f, maxPartSize))
}

// PrettyFormula rewrites bracketed external references in a formula to
// include the resolved source path, for console display.
func PrettyFormula(formula string, refs map[int]string) string {
	if len(refs) == 0 {
		return formula
	}

	return externalTermPattern.ReplaceAllStringFunc(formula, func(term string) string {
		m := externalTermPattern.FindStringSubmatch(term)

		index, _ := strconv.Atoi(m[1])

		path := refs[index]
		if path == "" {
			return term
		}

		return fmt.Sprintf("[%s]%s", path, term[len(m[1])+2:])
	})
}

var externalTermPattern = regexp.MustCompile(`\[(\d+)\][A-Za-z0-9_]+!`)
