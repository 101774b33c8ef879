// Package wire implements the text protocol spoken with a remote scope:
// building the command line for an operation and unpacking the payload the
// remote tool prints in reply.
//
// A command line has the form
//
//	<tool> <operation> <base64(workingPath)> <base64(arg1)> ... <base64(argN)>
//
// Every argument is encoded on its own with standard padded base64, so the
// line contains only the base64 alphabet and single spaces. An empty
// argument is sent as '' so the remote shell still sees one (empty) word.
// Building is deterministic: identical inputs give an identical line.
//
// Replies are framed as a "pack/1" header line followed by one base64
// item per line; see Pack and Unpack.
package wire
