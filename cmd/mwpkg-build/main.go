package main

import "github.com/oshokin/mathworks-packager/cmd/mwpkg-build/cmd"

func main() {
	cmd.Execute()
}
