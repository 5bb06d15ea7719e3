package main

import "github.com/Martian-dev/gmail-mirror/internal/app"

func main() {
	app.Execute()
}
