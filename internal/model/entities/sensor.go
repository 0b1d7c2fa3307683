package entities

// SensorKind is the physical kind of a sensor device.
type SensorKind string

const (
	KindMotion      SensorKind = "motion"
	KindCamera      SensorKind = "camera"
	KindTemperature SensorKind = "temperature"
	KindHumidity    SensorKind = "humidity"
	KindDoor        SensorKind = "door"
	KindWindow      SensorKind = "window"
)

// Valid reports whether k is one of the known sensor kinds.
func (k SensorKind) Valid() bool {
	switch k {
	case KindMotion, KindCamera, KindTemperature, KindHumidity, KindDoor, KindWindow:
		return true
	}
	return false
}

// IsContact is true for door and window contact sensors.
func (k SensorKind) IsContact() bool {
	return k == KindDoor || k == KindWindow
}

// SensorStatus is the operational status reported with every reading.
type SensorStatus string

const (
	StatusActive   SensorStatus = "active"
	StatusInactive SensorStatus = "inactive"
	StatusAlert    SensorStatus = "alert"
)

func (s SensorStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusAlert:
		return true
	}
	return false
}
