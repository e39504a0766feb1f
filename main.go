package main

import "github.com/dctoing3-dot/pandu/cmd"

func main() {
	cmd.Execute()
}
