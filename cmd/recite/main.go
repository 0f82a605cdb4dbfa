// Command recite is a local-first spaced-repetition engine for memorizing
// structured text, synchronized across devices through a remote mirror.
package main

func main() {
	Execute()
}
