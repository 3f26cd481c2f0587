package models

// Vehicle states reported by the fleet API.
const (
	VehicleStateOnline  = "online"
	VehicleStateOffline = "offline"
	VehicleStateAsleep  = "asleep"
)

// VehicleRef is the vendor's vehicle listing entry. Only ID and State drive trip logic.
type VehicleRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Model       string `json:"model,omitempty"`
	VIN         string `json:"vin"`
	State       string `json:"state"`
}

// Online reports whether the vehicle can answer data requests without a wake-up.
func (v VehicleRef) Online() bool {
	return v.State == VehicleStateOnline
}

// VehicleData is the raw vehicle_data payload. Every section may be missing.
type VehicleData struct {
	ID            string         `json:"id_s"`
	VIN           string         `json:"vin"`
	DisplayName   string         `json:"display_name"`
	State         string         `json:"state"`
	DriveState    *DriveState    `json:"drive_state,omitempty"`
	ChargeState   *ChargeState   `json:"charge_state,omitempty"`
	ClimateState  *ClimateState  `json:"climate_state,omitempty"`
	VehicleState  *VehicleState  `json:"vehicle_state,omitempty"`
	VehicleConfig *VehicleConfig `json:"vehicle_config,omitempty"`
}

// DriveState carries position and motion.
type DriveState struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Heading    *float64 `json:"heading"`
	Speed      *float64 `json:"speed"`
	ShiftState *string  `json:"shift_state"`
	Power      *float64 `json:"power"`
	// Timestamp is milliseconds since epoch.
	Timestamp *int64 `json:"timestamp"`
}

// ChargeState carries battery information.
type ChargeState struct {
	BatteryLevel     *float64 `json:"battery_level"`
	BatteryRange     *float64 `json:"battery_range"`
	ChargingState    *string  `json:"charging_state"`
	ChargeLimitSOC   *float64 `json:"charge_limit_soc"`
	TimeToFullCharge *float64 `json:"time_to_full_charge"`
	ChargeRate       *float64 `json:"charge_rate"`
}

// ClimateState carries cabin climate information.
type ClimateState struct {
	InsideTemp           *float64 `json:"inside_temp"`
	OutsideTemp          *float64 `json:"outside_temp"`
	IsClimateOn          *bool    `json:"is_climate_on"`
	DriverTempSetting    *float64 `json:"driver_temp_setting"`
	PassengerTempSetting *float64 `json:"passenger_temp_setting"`
	FanStatus            *int     `json:"fan_status"`
}

// VehicleState carries odometer and software details.
type VehicleState struct {
	Odometer   *float64 `json:"odometer"`
	Locked     *bool    `json:"locked"`
	CarVersion string   `json:"car_version"`
}

// VehicleConfig carries static configuration.
type VehicleConfig struct {
	CarType string `json:"car_type"`
}
