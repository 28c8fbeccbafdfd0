// Command guardctl administers a running xdpguard through its pinned maps.
package main

func main() {
	Execute()
}
