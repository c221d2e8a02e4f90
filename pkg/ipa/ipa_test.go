package ipa

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const widgetPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleDisplayName</key>
	<string>Widget</string>
	<key>CFBundleIdentifier</key>
	<string>com.acme.widget</string>
	<key>CFBundleShortVersionString</key>
	<string>1.2.0</string>
	<key>CFBundleVersion</key>
	<string>202608011200</string>
	<key>CFBundleIcons</key>
	<dict>
		<key>CFBundlePrimaryIcon</key>
		<dict>
			<key>CFBundleIconFiles</key>
			<array>
				<string>AppIcon60x60</string>
			</array>
		</dict>
	</dict>
</dict>
</plist>`

func buildIPA(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	data := buildIPA(t, map[string]string{
		"Payload/Widget.app/Info.plist": widgetPlist,
		"Payload/Widget.app/Widget":     "binary",
	})

	info := Extract(data, "Widget.ipa")
	assert.Equal(t, "Widget", info.Name)
	assert.Equal(t, "1.2.0", info.Version)
	assert.Equal(t, "202608011200", info.BuildNumber)
	assert.Equal(t, "com.acme.widget", info.BundleID)
}

func TestExtract_PrefersShallowestPlist(t *testing.T) {
	extensionPlist := `<?xml version="1.0"?><plist version="1.0"><dict>
		<key>CFBundleIdentifier</key><string>com.acme.widget.extension</string>
	</dict></plist>`

	data := buildIPA(t, map[string]string{
		"Payload/Widget.app/PlugIns/Share.appex/Info.plist": extensionPlist,
		"Payload/Widget.app/Info.plist":                     widgetPlist,
	})

	info := Extract(data, "Widget.ipa")
	assert.Equal(t, "com.acme.widget", info.BundleID)
}

func TestExtract_NotAZip(t *testing.T) {
	info := Extract([]byte("definitely not a zip"), "Widget.ipa")
	assert.Equal(t, "Widget", info.Name)
	assert.Equal(t, "unknown", info.Version)
	assert.Equal(t, "unknown", info.BuildNumber)
	assert.Equal(t, "unknown", info.BundleID)
}

func TestExtract_NoPlist(t *testing.T) {
	data := buildIPA(t, map[string]string{
		"Payload/Widget.app/Widget": "binary",
	})

	info := Extract(data, "builds/Widget.ipa")
	assert.Equal(t, "Widget", info.Name)
	assert.Equal(t, "unknown", info.BundleID)
}

func TestExtract_BinaryPlistFallsBack(t *testing.T) {
	data := buildIPA(t, map[string]string{
		"Payload/Widget.app/Info.plist": "bplist00\x00\x01\x02",
	})

	info := Extract(data, "Widget.ipa")
	assert.Equal(t, "Widget", info.Name)
	assert.Equal(t, "unknown", info.Version)
}

func TestExtract_BundleNameFallback(t *testing.T) {
	plist := `<?xml version="1.0"?><plist version="1.0"><dict>
		<key>CFBundleName</key><string>WidgetCore</string>
	</dict></plist>`
	data := buildIPA(t, map[string]string{
		"Payload/Widget.app/Info.plist": plist,
	})

	info := Extract(data, "Widget.ipa")
	assert.Equal(t, "WidgetCore", info.Name)
}
