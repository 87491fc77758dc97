// peer is a terminal client for the sync gateway. It joins one session, keeps an in-memory copy of
// the document in step with the other participants and reads edit commands from stdin.
package main

import "log"

func main() {
	if err := Execute(); err != nil {
		log.Fatal(err)
	}
}
