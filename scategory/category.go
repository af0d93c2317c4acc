// Package scategory is the static table of message categories.
//
// A category tags an outbound message with what kind of request it carries.
// The delivery state machine only carries the tag;
// routing and response parsing consult this table.
package scategory

import "strconv"

// Category identifies the kind of request an outbound message carries.
type Category uint16

// Kind is the broad family a [Category] belongs to.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindProxyConfig
	KindConfig
	KindApplication
	KindVendor
)

func (k Kind) String() string {
	switch k {
	case KindProxyConfig:
		return "proxy-config"
	case KindConfig:
		return "config"
	case KindApplication:
		return "application"
	case KindVendor:
		return "vendor"
	default:
		return "unknown"
	}
}

// Proxy configuration.
const (
	ProxyConfigSetFilterType           Category = 900
	ProxyConfigAddAddressToFilter      Category = 901
	ProxyConfigRemoveAddressFromFilter Category = 902
)

// Configuration messages.
//
// Relay and proxy get/set historically shared 10 and 11;
// proxy now uses 12 and 13.
const (
	CompositionDataGet            Category = 0
	AppKeyAdd                     Category = 1
	ConfigModelAppBind            Category = 2
	ConfigModelAppUnbind          Category = 3
	ConfigModelPublicationSet     Category = 4
	ConfigModelSubscriptionAdd    Category = 5
	ConfigModelSubscriptionDelete Category = 6
	ConfigNodeReset               Category = 7
	ConfigNetworkTransmitSet      Category = 8
	ConfigNetworkTransmitGet      Category = 9
	ConfigRelayGet                Category = 10
	ConfigRelaySet                Category = 11
	ConfigProxyGet                Category = 12
	ConfigProxySet                Category = 13
	ConfigModelPublicationGet     Category = 40
)

// Application messages.
const (
	GenericUserPropertyGet            Category = 199
	GenericOnOffGet                   Category = 200
	GenericOnOffSet                   Category = 201
	GenericOnOffSetUnacknowledged     Category = 202
	GenericLevelGet                   Category = 203
	GenericLevelSet                   Category = 204
	GenericLevelSetUnacknowledged     Category = 205
	GenericOnPowerUpGet               Category = 206
	GenericOnPowerUpSet               Category = 207
	GenericOnPowerUpSetUnacknowledged Category = 208
	GenericMoveSet                    Category = 210
	GenericMoveSetUnacknowledged      Category = 211

	LightLightnessGet               Category = 300
	LightLightnessSet               Category = 301
	LightLightnessSetUnacknowledged Category = 302
	LightCtlGet                     Category = 303
	LightCtlSet                     Category = 304
	LightCtlSetUnacknowledged       Category = 305
	LightHslGet                     Category = 306
	LightHslSet                     Category = 307
	LightHslSetUnacknowledged       Category = 308

	SceneGet                  Category = 309
	SceneRegisterGet          Category = 310
	SceneStore                Category = 311
	SceneStoreUnacknowledged  Category = 312
	SceneDelete               Category = 313
	SceneDeleteUnacknowledged Category = 314
	SceneRecall               Category = 315
	SceneRecallUnacknowledged Category = 316

	HealthAttentionGet               Category = 317
	HealthAttentionSet               Category = 318
	HealthAttentionSetUnacknowledged Category = 319
	HealthFaultGet                   Category = 320
	HealthFaultTest                  Category = 321

	LightLightnessDefaultGet               Category = 322
	LightLightnessDefaultSet               Category = 323
	LightLightnessDefaultSetUnacknowledged Category = 324
	LightCtlDefaultGet                     Category = 325
	LightCtlDefaultSet                     Category = 326
	LightCtlDefaultSetUnacknowledged       Category = 327
	LightHslDefaultGet                     Category = 328
	LightHslDefaultSet                     Category = 329
	LightHslDefaultSetUnacknowledged       Category = 330

	TimeGet     Category = 331
	TimeSet     Category = 332
	TimeZoneGet Category = 333
	TimeZoneSet Category = 334
	TaiUtcGet   Category = 335
	TaiUtcSet   Category = 336
	TimeRoleGet Category = 337
	TimeRoleSet Category = 338

	SchedulerGet                     Category = 339
	SchedulerActionGet               Category = 340
	SchedulerActionSet               Category = 341
	SchedulerActionSetUnacknowledged Category = 342
)

// Vendor model messages.
const (
	VendorModelAcknowledged   Category = 1000
	VendorModelUnacknowledged Category = 1001
)

// Info describes a single [Category].
type Info struct {
	Name string
	Kind Kind

	// Whether the remote is expected to answer with a status message.
	// Unacknowledged categories complete as soon as delivery completes.
	Acknowledged bool
}

// table is keyed by constant values,
// so a duplicated code fails to compile.
var table = map[Category]Info{
	ProxyConfigSetFilterType:           {"PROXY_CONFIG_SET_FILTER_TYPE", KindProxyConfig, true},
	ProxyConfigAddAddressToFilter:      {"PROXY_CONFIG_ADD_ADDRESS_TO_FILTER", KindProxyConfig, true},
	ProxyConfigRemoveAddressFromFilter: {"PROXY_CONFIG_REMOVE_ADDRESS_FROM_FILTER", KindProxyConfig, true},

	CompositionDataGet:            {"COMPOSITION_DATA_GET", KindConfig, true},
	AppKeyAdd:                     {"APP_KEY_ADD", KindConfig, true},
	ConfigModelAppBind:            {"CONFIG_MODEL_APP_BIND", KindConfig, true},
	ConfigModelAppUnbind:          {"CONFIG_MODEL_APP_UNBIND", KindConfig, true},
	ConfigModelPublicationGet:     {"CONFIG_MODEL_PUBLICATION_GET", KindConfig, true},
	ConfigModelPublicationSet:     {"CONFIG_MODEL_PUBLICATION_SET", KindConfig, true},
	ConfigModelSubscriptionAdd:    {"CONFIG_MODEL_SUBSCRIPTION_ADD", KindConfig, true},
	ConfigModelSubscriptionDelete: {"CONFIG_MODEL_SUBSCRIPTION_DELETE", KindConfig, true},
	ConfigNodeReset:               {"CONFIG_NODE_RESET", KindConfig, true},
	ConfigNetworkTransmitSet:      {"CONFIG_NETWORK_TRANSMIT_SET", KindConfig, true},
	ConfigNetworkTransmitGet:      {"CONFIG_NETWORK_TRANSMIT_GET", KindConfig, true},
	ConfigRelayGet:                {"CONFIG_RELAY_GET", KindConfig, true},
	ConfigRelaySet:                {"CONFIG_RELAY_SET", KindConfig, true},
	ConfigProxyGet:                {"CONFIG_PROXY_GET", KindConfig, true},
	ConfigProxySet:                {"CONFIG_PROXY_SET", KindConfig, true},

	GenericUserPropertyGet:            {"GENERIC_USER_PROPERTY_GET", KindApplication, true},
	GenericOnOffGet:                   {"GENERIC_ON_OFF_GET", KindApplication, true},
	GenericOnOffSet:                   {"GENERIC_ON_OFF_SET", KindApplication, true},
	GenericOnOffSetUnacknowledged:     {"GENERIC_ON_OFF_SET_UNACKNOWLEDGED", KindApplication, false},
	GenericLevelGet:                   {"GENERIC_LEVEL_GET", KindApplication, true},
	GenericLevelSet:                   {"GENERIC_LEVEL_SET", KindApplication, true},
	GenericLevelSetUnacknowledged:     {"GENERIC_LEVEL_SET_UNACKNOWLEDGED", KindApplication, false},
	GenericOnPowerUpGet:               {"GENERIC_ON_POWER_UP_GET", KindApplication, true},
	GenericOnPowerUpSet:               {"GENERIC_ON_POWER_UP_SET", KindApplication, true},
	GenericOnPowerUpSetUnacknowledged: {"GENERIC_ON_POWER_UP_SET_UNACKNOWLEDGED", KindApplication, false},
	GenericMoveSet:                    {"GENERIC_MOVE_SET", KindApplication, true},
	GenericMoveSetUnacknowledged:      {"GENERIC_MOVE_SET_UNACKNOWLEDGED", KindApplication, false},

	LightLightnessGet:               {"LIGHT_LIGHTNESS_GET", KindApplication, true},
	LightLightnessSet:               {"LIGHT_LIGHTNESS_SET", KindApplication, true},
	LightLightnessSetUnacknowledged: {"LIGHT_LIGHTNESS_SET_UNACKNOWLEDGED", KindApplication, false},
	LightCtlGet:                     {"LIGHT_CTL_GET", KindApplication, true},
	LightCtlSet:                     {"LIGHT_CTL_SET", KindApplication, true},
	LightCtlSetUnacknowledged:       {"LIGHT_CTL_SET_UNACKNOWLEDGED", KindApplication, false},
	LightHslGet:                     {"LIGHT_HSL_GET", KindApplication, true},
	LightHslSet:                     {"LIGHT_HSL_SET", KindApplication, true},
	LightHslSetUnacknowledged:       {"LIGHT_HSL_SET_UNACKNOWLEDGED", KindApplication, false},

	SceneGet:                  {"SCENE_GET", KindApplication, true},
	SceneRegisterGet:          {"SCENE_REGISTER_GET", KindApplication, true},
	SceneStore:                {"SCENE_STORE", KindApplication, true},
	SceneStoreUnacknowledged:  {"SCENE_STORE_UNACKNOWLEDGED", KindApplication, false},
	SceneDelete:               {"SCENE_DELETE", KindApplication, true},
	SceneDeleteUnacknowledged: {"SCENE_DELETE_UNACKNOWLEDGED", KindApplication, false},
	SceneRecall:               {"SCENE_RECALL", KindApplication, true},
	SceneRecallUnacknowledged: {"SCENE_RECALL_UNACKNOWLEDGED", KindApplication, false},

	HealthAttentionGet:               {"HEALTH_ATTENTION_GET", KindApplication, true},
	HealthAttentionSet:               {"HEALTH_ATTENTION_SET", KindApplication, true},
	HealthAttentionSetUnacknowledged: {"HEALTH_ATTENTION_SET_UNACKNOWLEDGED", KindApplication, false},
	HealthFaultGet:                   {"HEALTH_FAULT_GET", KindApplication, true},
	HealthFaultTest:                  {"HEALTH_FAULT_TEST", KindApplication, true},

	LightLightnessDefaultGet:               {"LIGHT_LIGHTNESS_DEFAULT_GET", KindApplication, true},
	LightLightnessDefaultSet:               {"LIGHT_LIGHTNESS_DEFAULT_SET", KindApplication, true},
	LightLightnessDefaultSetUnacknowledged: {"LIGHT_LIGHTNESS_DEFAULT_SET_UNACKNOWLEDGED", KindApplication, false},
	LightCtlDefaultGet:                     {"LIGHT_CTL_DEFAULT_GET", KindApplication, true},
	LightCtlDefaultSet:                     {"LIGHT_CTL_DEFAULT_SET", KindApplication, true},
	LightCtlDefaultSetUnacknowledged:       {"LIGHT_CTL_DEFAULT_SET_UNACKNOWLEDGED", KindApplication, false},
	LightHslDefaultGet:                     {"LIGHT_HSL_DEFAULT_GET", KindApplication, true},
	LightHslDefaultSet:                     {"LIGHT_HSL_DEFAULT_SET", KindApplication, true},
	LightHslDefaultSetUnacknowledged:       {"LIGHT_HSL_DEFAULT_SET_UNACKNOWLEDGED", KindApplication, false},

	TimeGet:     {"TIME_GET", KindApplication, true},
	TimeSet:     {"TIME_SET", KindApplication, true},
	TimeZoneGet: {"TIME_ZONE_GET", KindApplication, true},
	TimeZoneSet: {"TIME_ZONE_SET", KindApplication, true},
	TaiUtcGet:   {"TAI_UTC_GET", KindApplication, true},
	TaiUtcSet:   {"TAI_UTC_SET", KindApplication, true},
	TimeRoleGet: {"TIME_ROLE_GET", KindApplication, true},
	TimeRoleSet: {"TIME_ROLE_SET", KindApplication, true},

	SchedulerGet:                     {"SCHEDULER_GET", KindApplication, true},
	SchedulerActionGet:               {"SCHEDULER_ACTION_GET", KindApplication, true},
	SchedulerActionSet:               {"SCHEDULER_ACTION_SET", KindApplication, true},
	SchedulerActionSetUnacknowledged: {"SCHEDULER_ACTION_SET_UNACKNOWLEDGED", KindApplication, false},

	VendorModelAcknowledged:   {"VENDOR_MODEL_ACKNOWLEDGED", KindVendor, true},
	VendorModelUnacknowledged: {"VENDOR_MODEL_UNACKNOWLEDGED", KindVendor, false},
}

// Lookup returns the Info for c.
// The boolean result is false if c is not a known category.
func Lookup(c Category) (Info, bool) {
	info, ok := table[c]
	return info, ok
}

// Kind returns the kind of c, or [KindUnknown].
func (c Category) Kind() Kind {
	return table[c].Kind
}

func (c Category) String() string {
	if info, ok := table[c]; ok {
		return info.Name
	}
	return "UNKNOWN_CATEGORY(" + strconv.Itoa(int(c)) + ")"
}

// Len reports how many categories are in the table.
func Len() int {
	return len(table)
}
