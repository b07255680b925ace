package local

import "errors"

var errNotPersistent = errors.New("store keeps no history")
