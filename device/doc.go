// Package device provides block devices for the bcache package: an
// in-memory disk for tests and demos, and a file-backed disk that stores
// each device id in its own image file.
package device
