package wallet

import "time"

var fixedTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
