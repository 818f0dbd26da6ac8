package main

import "github.com/oshokin/mathworks-packager/cmd/mwpkg-prestage/cmd"

func main() {
	cmd.Execute()
}
