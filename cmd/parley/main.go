// Command parley validates, visualizes, plays and serves dialogue graphs.
package main

func main() {
	Execute()
}
