// Package catalog holds the fixed Miele cloud API vocabulary: device type
// codes, status codes, action codes and endpoint templates. All tables here
// are closed; unknown codes are handled gracefully by the callers.
package catalog

import "time"

// Sentinel is the API convention for "this physical quantity is not
// applicable to this device". Fields carrying it must not be projected.
const Sentinel = -32768

// Default timeouts and endpoints.
const (
	DefaultBaseURL     = "https://api.mcs3.miele.com/"
	DefaultHTTPTimeout = 60 * time.Second

	EndpointToken      = "thirdparty/token/"
	EndpointLogout     = "thirdparty/logout/"
	EndpointDevices    = "v1/devices/"
	EndpointDevice     = "v1/devices/%s"
	EndpointActions    = "v1/devices/%s/actions"
	EndpointPrograms   = "v1/devices/%s/programs/"
	EndpointAllEvents  = "v1/devices/all/events/"
)

// Device type codes as returned under ident.type.value_raw.
const (
	TypeWashingMachine         = 1
	TypeTumbleDryer            = 2
	TypeDishwasher             = 7
	TypeDishwasherSemiProf     = 8
	TypeOven                   = 12
	TypeOvenMicrowave          = 13
	TypeHobHighlight           = 14
	TypeSteamOven              = 15
	TypeMicrowave              = 16
	TypeCoffeeSystem           = 17
	TypeHood                   = 18
	TypeFridge                 = 19
	TypeFreezer                = 20
	TypeFridgeFreezer          = 21
	TypeRobotVacuumCleaner     = 23
	TypeWasherDryer            = 24
	TypeDishWarmer             = 25
	TypeHobInduction           = 27
	TypeHobGas                 = 28
	TypeSteamOvenCombi         = 31
	TypeWineCabinet            = 32
	TypeWineConditioningUnit   = 33
	TypeWineStorageConditioner = 34
	TypeDoubleOven             = 39
	TypeDoubleSteamOven        = 40
	TypeDoubleSteamOvenCombi   = 41
	TypeDoubleMicrowave        = 42
	TypeDoubleMicrowaveOven    = 43
	TypeSteamOvenMicrowave     = 45
	TypeVacuumDrawer           = 48
	TypeDialogOven             = 67
	TypeWineCabinetFreezer     = 68
)

// typeNames maps device type codes to their display names. Used as the
// nickname fallback when the user has not named the appliance.
var typeNames = map[int]string{
	TypeWashingMachine:         "Washing machine",
	TypeTumbleDryer:            "Tumble dryer",
	TypeDishwasher:             "Dishwasher",
	TypeDishwasherSemiProf:     "Dishwasher semi-professional",
	TypeOven:                   "Oven",
	TypeOvenMicrowave:          "Oven microwave",
	TypeHobHighlight:           "Hob highlight",
	TypeSteamOven:              "Steam oven",
	TypeMicrowave:              "Microwave",
	TypeCoffeeSystem:           "Coffee system",
	TypeHood:                   "Hood",
	TypeFridge:                 "Fridge",
	TypeFreezer:                "Freezer",
	TypeFridgeFreezer:          "Fridge/freezer combination",
	TypeRobotVacuumCleaner:     "Robot vacuum cleaner",
	TypeWasherDryer:            "Washer dryer",
	TypeDishWarmer:             "Dish warmer",
	TypeHobInduction:           "Hob induction",
	TypeHobGas:                 "Hob gas",
	TypeSteamOvenCombi:         "Steam oven combination",
	TypeWineCabinet:            "Wine cabinet",
	TypeWineConditioningUnit:   "Wine conditioning unit",
	TypeWineStorageConditioner: "Wine storage conditioning unit",
	TypeDoubleOven:             "Double oven",
	TypeDoubleSteamOven:        "Double steam oven",
	TypeDoubleSteamOvenCombi:   "Double steam oven combination",
	TypeDoubleMicrowave:        "Double microwave",
	TypeDoubleMicrowaveOven:    "Double microwave oven",
	TypeSteamOvenMicrowave:     "Steam oven microwave combination",
	TypeVacuumDrawer:           "Vacuum drawer",
	TypeDialogOven:             "Dialog oven",
	TypeWineCabinetFreezer:     "Wine cabinet freezer combination",
}

// TypeName returns the display name for a device type code, or "Unknown" for
// codes outside the catalog.
func TypeName(code int) string {
	if name, ok := typeNames[code]; ok {
		return name
	}
	return "Unknown"
}

// KnownType reports whether the type code is part of the catalog.
func KnownType(code int) bool {
	_, ok := typeNames[code]
	return ok
}

// iconRefs maps device type codes to icon references served to the host.
var iconRefs = map[int]string{
	TypeWashingMachine:         "icons/washingmachine.svg",
	TypeTumbleDryer:            "icons/dryer.svg",
	TypeDishwasher:             "icons/dishwasher.svg",
	TypeDishwasherSemiProf:     "icons/dishwasher.svg",
	TypeOven:                   "icons/oven.svg",
	TypeOvenMicrowave:          "icons/oven.svg",
	TypeSteamOven:              "icons/oven.svg",
	TypeMicrowave:              "icons/oven.svg",
	TypeCoffeeSystem:           "icons/coffee.svg",
	TypeHood:                   "icons/hood.svg",
	TypeFridge:                 "icons/fridge.svg",
	TypeFreezer:                "icons/fridge.svg",
	TypeFridgeFreezer:          "icons/fridge.svg",
	TypeRobotVacuumCleaner:     "icons/vacuum.svg",
	TypeWasherDryer:            "icons/washingmachine.svg",
	TypeHobHighlight:           "icons/hob.svg",
	TypeHobInduction:           "icons/hob.svg",
	TypeHobGas:                 "icons/hob.svg",
	TypeWineCabinet:            "icons/wine.svg",
	TypeWineConditioningUnit:   "icons/wine.svg",
	TypeWineStorageConditioner: "icons/wine.svg",
	TypeWineCabinetFreezer:     "icons/wine.svg",
}

// IconRef returns the icon reference for a device type code.
func IconRef(code int) string {
	if ref, ok := iconRefs[code]; ok {
		return ref
	}
	return "icons/appliance.svg"
}

// Status codes as returned under state.status.value_raw.
const (
	StatusOff                       = 1
	StatusOn                        = 2
	StatusProgrammed                = 3
	StatusWaitingToStart            = 4
	StatusRunning                   = 5
	StatusPause                     = 6
	StatusEndProgrammed             = 7
	StatusFailure                   = 8
	StatusProgrammeInterrupted      = 9
	StatusIdle                      = 10
	StatusRinseHold                 = 11
	StatusService                   = 12
	StatusSuperfreezing             = 13
	StatusSupercooling              = 14
	StatusSuperheating              = 15
	StatusDefault                   = 144
	StatusLocked                    = 145
	StatusSupercoolingSuperfreezing = 146
	StatusNotConnected              = 255
)

// Process action codes for the PUT actions endpoint.
const (
	ActionStart              = 1
	ActionStop               = 2
	ActionPause              = 3
	ActionStartSuperfreezing = 4
	ActionStopSuperfreezing  = 5
	ActionStartSupercooling  = 6
	ActionStopSupercooling   = 7
)

// Light action codes.
const (
	LightEnable  = 1
	LightDisable = 2
)
