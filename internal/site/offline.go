// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package site

import (
	"bytes"
	_ "embed"
	"html/template"
)

var (
	//go:embed offline.html
	offlineTemplateStr string
	offlineTemplate    = template.Must(template.New("offline").Parse(offlineTemplateStr))
)

func renderOffline(app string) []byte {
	var buf bytes.Buffer
	if err := offlineTemplate.Execute(&buf, struct{ App string }{app}); err != nil {
		// The template only prints a string.
		panic(err)
	}
	return buf.Bytes()
}
