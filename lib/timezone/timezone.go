package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Bangkok")
	if err != nil {
		panic(err)
	}
}

// force timezone to be the portal's local zone because the servers
// may end up in any region, which causes disturbances when
// interpreting the portal's wall-clock date labels
func Now() time.Time {
	return time.Now().In(Location)
}
