// Package ipa extracts descriptive metadata from iOS application packages.
//
// Extraction is strictly best-effort: an IPA is a zip archive carrying an
// Info.plist, but packages produced by arbitrary build setups vary, and a
// build whose artifact cannot be introspected is still a successful build.
// Every failure path falls back to filename-derived defaults.
package ipa

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"strings"
)

// Info is the minimal metadata shown next to a produced package.
type Info struct {
	Name        string
	Version     string
	BuildNumber string
	BundleID    string
}

const unknown = "unknown"

// Extract pulls app metadata out of IPA bytes.
//
// It never returns an error: on any parse failure the returned Info holds
// defaults derived from the filename.
func Extract(data []byte, filename string) Info {
	info := defaults(filename)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return info
	}

	plistFile := findInfoPlist(zr)
	if plistFile == nil {
		return info
	}

	rc, err := plistFile.Open()
	if err != nil {
		return info
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(io.LimitReader(rc, 1<<20))
	if err != nil {
		return info
	}

	values, err := parseXMLPlist(raw)
	if err != nil {
		// Binary plists land here; keep the defaults.
		return info
	}

	if v := values["CFBundleDisplayName"]; v != "" {
		info.Name = v
	} else if v := values["CFBundleName"]; v != "" {
		info.Name = v
	}
	if v := values["CFBundleShortVersionString"]; v != "" {
		info.Version = v
	}
	if v := values["CFBundleVersion"]; v != "" {
		info.BuildNumber = v
	}
	if v := values["CFBundleIdentifier"]; v != "" {
		info.BundleID = v
	}
	return info
}

func defaults(filename string) Info {
	name := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	if name == "" || name == "." {
		name = unknown
	}
	return Info{
		Name:        name,
		Version:     unknown,
		BuildNumber: unknown,
		BundleID:    unknown,
	}
}

// findInfoPlist locates the app bundle's Info.plist. The canonical
// location is Payload/<App>.app/Info.plist; nested bundles (extensions,
// frameworks) carry their own plists deeper in the tree, so prefer the
// shallowest match.
func findInfoPlist(zr *zip.Reader) *zip.File {
	var best *zip.File
	bestDepth := -1
	for _, f := range zr.File {
		if path.Base(f.Name) != "Info.plist" {
			continue
		}
		depth := strings.Count(f.Name, "/")
		if best == nil || depth < bestDepth {
			best = f
			bestDepth = depth
		}
	}
	return best
}

// parseXMLPlist walks an XML property list and returns its top-level
// dict's string-valued entries. Non-string values are skipped.
func parseXMLPlist(raw []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	values := make(map[string]string)

	var key string
	var inKey bool
	depth := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "dict":
				depth++
			case "key":
				inKey = depth == 1
				key = ""
			case "string":
				if depth == 1 && key != "" {
					var v string
					if err := dec.DecodeElement(&v, &t); err != nil {
						return nil, err
					}
					values[key] = v
					key = ""
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "dict":
				depth--
			case "key":
				inKey = false
			}
		case xml.CharData:
			if inKey {
				key += string(t)
			}
		}
	}
	return values, nil
}
