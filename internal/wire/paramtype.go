package wire

// ParameterType is the well-known parameter id catalog recovered from the
// original daemon's header. It is an open enum: values outside the
// well-known range are valid and pass through as VARIANT parameters
// without error, per the unknown-optional-tag rule in the codec contract.
type ParameterType uint32

const (
	ParamDaemonType ParameterType = iota + 1
	ParamDaemonID
	ParamGUID
	ParamAuthID
	ParamAuthPassword
	ParamCommandID
	ParamServiceID
	ParamStatsID
	ParamStatsCount
	ParamStatsValue
	ParamStatusCode
	ParamStatusMessage
	ParamRouteCost
	ParamRouteHopcount

	paramWellKnownUpperBound
)

// IsWellKnown reports whether id falls in the catalog above, as opposed to
// an application-defined id carried through as an opaque VARIANT.
func (id ParameterType) IsWellKnown() bool {
	return id >= ParamDaemonType && id < paramWellKnownUpperBound
}

var paramTypeNames = map[ParameterType]string{
	ParamDaemonType:    "daemon_type",
	ParamDaemonID:      "daemon_id",
	ParamGUID:          "guid",
	ParamAuthID:        "auth_id",
	ParamAuthPassword:  "auth_password",
	ParamCommandID:     "command_id",
	ParamServiceID:     "service_id",
	ParamStatsID:       "stats_id",
	ParamStatsCount:    "stats_count",
	ParamStatsValue:    "stats_value",
	ParamStatusCode:    "status_code",
	ParamStatusMessage: "status_message",
	ParamRouteCost:     "route_cost",
	ParamRouteHopcount: "route_hopcount",
}

func (id ParameterType) String() string {
	if name, ok := paramTypeNames[id]; ok {
		return name
	}
	return "variant"
}
