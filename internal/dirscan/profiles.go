package dirscan

import "github.com/onionrecon/core/internal/storage"

// quickPaths is the ~10-entry profile: the handful of paths most likely to
// exist and most interesting if they do.
var quickPaths = []string{
	"admin",
	"login.php",
	".env",
	".git/config",
	"backup.zip",
	"config.php",
	"robots.txt",
	"server-status",
	"phpmyadmin",
	".htpasswd",
}

// standardPaths extends quickPaths to ~25 entries.
var standardPaths = append(append([]string{}, quickPaths...),
	"wp-admin",
	"administrator",
	".svn/entries",
	"sitemap.xml",
	"phpinfo.php",
	"database.sql",
	"config.yml",
	"web.config",
	".htaccess",
	"logs/error.log",
	"private/",
	"uploads/",
	"backup.sql",
	"dump.sql",
	"id_rsa",
)

// fullPaths extends standardPaths to ~50 entries.
var fullPaths = append(append([]string{}, standardPaths...),
	".hg/store",
	"manager/html",
	"phpMyAdmin/index.php",
	"server-info",
	"config.json",
	"settings.py",
	"app.log",
	"error.log",
	"access.log",
	".sqlite",
	"data.db",
	"backup.tar.gz",
	"site.bak",
	"old/",
	"tmp/",
	"internal/",
	"secrets.yml",
	".aws/credentials",
	"credentials.json",
	".git/HEAD",
	".svn/wc.db",
	"adminer.php",
	"wp-login.php",
	"panel",
	"console",
)

// PathsFor returns the path list for a scan profile, defaulting to the
// standard profile for an unrecognized value.
func PathsFor(profile storage.Profile) []string {
	switch profile {
	case storage.ProfileQuick:
		return quickPaths
	case storage.ProfileFull:
		return fullPaths
	default:
		return standardPaths
	}
}
