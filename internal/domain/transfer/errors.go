package transfer

import "errors"

var ErrSameDepot = errors.New("source and destination depot are the same")
