package main

import "github.com/oshokin/mathworks-packager/cmd/mwpkg-install/cmd"

func main() {
	cmd.Execute()
}
