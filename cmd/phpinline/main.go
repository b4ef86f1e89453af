// Command phpinline runs PHP as you type and shows the result at the end of
// the line: as a language server, a file watcher, a one-shot CLI, or an HTTP
// API.
package main

func main() {
	Execute()
}
