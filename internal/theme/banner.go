package theme

import (
	"fmt"
	"io"
)

const (
	cyan    = "\033[36m"
	magenta = "\033[35m"
	yellow  = "\033[33m"
	reset   = "\033[0m"
)

// Banner returns the CLI banner shown by init and the root help.
func Banner() string {
	return "" +
		magenta + "   ┏━╸┏━┓╻  ╻  ┏━┓╻ ╻┏━╸┏━┓┏━┓╺┳╸\n" + reset +
		cyan + "   ┣╸ ┃ ┃┃  ┃  ┃ ┃┃╻┃┃  ┣━┫┗━┓ ┃ \n" + reset +
		cyan + "   ╹  ┗━┛┗━╸┗━╸┗━┛┗┻┛┗━╸╹ ╹┗━┛ ╹ \n" + reset +
		yellow + "   ────────────────────────────────\n" + reset +
		"   follower cache and paced DM campaigns for X\n"
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}
