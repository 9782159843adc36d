// Command mailqueue runs the email job queue.
package main

import "github.com/nimburion/mailqueue/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "mailqueue",
		Description: "Email job queue on Redis with an in-process fallback",
	}))
}
