// hostiotrace reconstructs Stylus hostio call trees from tracer event streams.
package main

import "github.com/ppiankov/hostiotrace/internal/cli"

func main() {
	cli.Execute()
}
