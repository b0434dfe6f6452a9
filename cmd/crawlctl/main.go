// Command crawlctl is a thin reference caller for internal/engine: it
// exercises the crawl-into / crawl-sites-into / merge-into verbs
// standalone, the way the embedding analytic engine would bind to them.
package main

func main() {
	Execute()
}
