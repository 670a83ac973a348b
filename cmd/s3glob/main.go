// Command s3glob lists and downloads S3 objects matching a glob pattern.
package main

import (
	"os"

	"github.com/quodlibetor/s3glob/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
