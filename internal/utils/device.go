package utils

import (
	"github.com/denisbrodbeck/machineid"
)

// HWID is an app-scoped hash of the machine id, empty if the platform doesn't expose one.
var HWID = deviceID()

func deviceID() string {
	id, err := machineid.ProtectedID("dirsync")
	if err != nil {
		return ""
	}
	return id[:16]
}
