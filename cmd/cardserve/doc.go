// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Cardserve serves a business card Progressive Web App from a directory.

The directory holds the entry document (index.html), the web app manifest
(manifest.json), the service worker (service-worker.js), images in the images
directory and any other static files. In addition, cardserve replies to
/health with a JSON status report and to /offline with a page shown by the
service worker when the network is unavailable.

Hidden files, such as .env, are never served, except the ones in
/.well-known/.

# Usage

	$ cardserve [flags...] [dir]

If dir is not provided, the SITE_ROOT environment variable is used, or the
current directory if it's not set.

# Configuration

Flags take precedence over environment variables, and the environment takes
precedence over the dotenv file set by -env-file:

	HOST          address to listen on (default 0.0.0.0)
	PORT          port to listen on (default 5000)
	DEBUG         serve debug pages at /debug/ and watch the site for changes
	APP_NAME      application name reported by /health (default Capmatic)
	APP_VERSION   application version reported by /health
	SITE_ROOT     directory to serve

# Checking the site

On startup, cardserve checks that the site can be installed as an app and
logs the problems found. To only run the check, use -check:

	$ cardserve -check ./site
	manifest.json: no icon of at least 512x512

In debug mode, the check runs again when a file in the site changes, and the
latest result is shown at /debug/.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/cardserve/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
