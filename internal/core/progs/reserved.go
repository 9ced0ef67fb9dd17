package progs

import "strconv"

// Global memory layout shared by the host and every compiled program.
const (
	OfsNull   = 0
	OfsReturn = 1
	OfsParm0  = 4
	OfsParm1  = 7
	OfsParm2  = 10
	OfsParm3  = 13
	OfsParm4  = 16
	OfsParm5  = 19
	OfsParm6  = 22
	OfsParm7  = 25

	MaxParms = 8

	GlobalSelf              = 28
	GlobalOther             = 29
	GlobalWorld             = 30
	GlobalTime              = 31
	GlobalFrameTime         = 32
	GlobalForceRetouch      = 33
	GlobalMapName           = 34
	GlobalDeathmatch        = 35
	GlobalCoop              = 36
	GlobalTeamplay          = 37
	GlobalServerFlags       = 38
	GlobalTotalSecrets      = 39
	GlobalTotalMonsters     = 40
	GlobalFoundSecrets      = 41
	GlobalKilledMonsters    = 42
	GlobalParm1             = 43 // parm1..parm16 are consecutive
	GlobalVForward          = 59
	GlobalVUp               = 62
	GlobalVRight            = 65
	GlobalTraceAllSolid     = 68
	GlobalTraceStartSolid   = 69
	GlobalTraceFraction     = 70
	GlobalTraceEndPos       = 71
	GlobalTracePlaneNormal  = 74
	GlobalTracePlaneDist    = 77
	GlobalTraceEnt          = 78
	GlobalTraceInOpen       = 79
	GlobalTraceInWater      = 80
	GlobalMsgEntity         = 81
	GlobalMain              = 82
	GlobalStartFrame        = 83
	GlobalPlayerPreThink    = 84
	GlobalPlayerPostThink   = 85
	GlobalClientKill        = 86
	GlobalClientConnect     = 87
	GlobalPutClientInServer = 88
	GlobalClientDisconnect  = 89
	GlobalSetNewParms       = 90
	GlobalSetChangeParms    = 91

	ReservedGlobalCount = 92
)

// ParmOffset returns the global offset of argument i.
func ParmOffset(i int) uint16 {
	return uint16(OfsParm0 + 3*i)
}

// Entity field offsets the host relies on.
const (
	FieldModelIndex   = 0
	FieldAbsMin       = 1
	FieldAbsMax       = 4
	FieldLTime        = 7
	FieldMoveType     = 8
	FieldSolid        = 9
	FieldOrigin       = 10
	FieldOldOrigin    = 13
	FieldVelocity     = 16
	FieldAngles       = 19
	FieldAVelocity    = 22
	FieldPunchAngle   = 25
	FieldClassName    = 28
	FieldModel        = 29
	FieldFrame        = 30
	FieldSkin         = 31
	FieldEffects      = 32
	FieldMins         = 33
	FieldMaxs         = 36
	FieldSize         = 39
	FieldTouch        = 42
	FieldUse          = 43
	FieldThink        = 44
	FieldBlocked      = 45
	FieldNextThink    = 46
	FieldGroundEntity = 47
	FieldHealth       = 48
	FieldFrags        = 49
	FieldWeapon       = 50
	FieldWeaponModel  = 51
	FieldWeaponFrame  = 52
	FieldCurrentAmmo  = 53
	FieldAmmoShells   = 54
	FieldAmmoNails    = 55
	FieldAmmoRockets  = 56
	FieldAmmoCells    = 57
	FieldItems        = 58
	FieldTakeDamage   = 59
	FieldChain        = 60
	FieldDeadFlag     = 61
	FieldViewOfs      = 62
	FieldButton0      = 65
	FieldButton1      = 66
	FieldButton2      = 67
	FieldImpulse      = 68
	FieldFixAngle     = 69
	FieldVAngle       = 70
	FieldIdealPitch   = 73
	FieldNetName      = 74
	FieldEnemy        = 75
	FieldFlags        = 76
	FieldColormap     = 77
	FieldTeam         = 78
	FieldMaxHealth    = 79
	FieldTeleportTime = 80
	FieldArmorType    = 81
	FieldArmorValue   = 82
	FieldWaterLevel   = 83
	FieldWaterType    = 84
	FieldIdealYaw     = 85
	FieldYawSpeed     = 86
	FieldAimEnt       = 87
	FieldGoalEntity   = 88
	FieldSpawnFlags   = 89
	FieldTarget       = 90
	FieldTargetName   = 91
	FieldDmgTake      = 92
	FieldDmgSave      = 93
	FieldDmgInflictor = 94
	FieldOwner        = 95
	FieldMoveDir      = 96
	FieldMessage      = 99
	FieldSounds       = 100
	FieldNoise        = 101
	FieldNoise1       = 102
	FieldNoise2       = 103
	FieldNoise3       = 104

	ReservedFieldCount = 105
)

type reservedDef struct {
	name   string
	typ    Type
	offset uint16
}

var reservedFields = []reservedDef{
	{"modelindex", TypeFloat, FieldModelIndex},
	{"absmin", TypeVector, FieldAbsMin},
	{"absmax", TypeVector, FieldAbsMax},
	{"ltime", TypeFloat, FieldLTime},
	{"movetype", TypeFloat, FieldMoveType},
	{"solid", TypeFloat, FieldSolid},
	{"origin", TypeVector, FieldOrigin},
	{"oldorigin", TypeVector, FieldOldOrigin},
	{"velocity", TypeVector, FieldVelocity},
	{"angles", TypeVector, FieldAngles},
	{"avelocity", TypeVector, FieldAVelocity},
	{"punchangle", TypeVector, FieldPunchAngle},
	{"classname", TypeString, FieldClassName},
	{"model", TypeString, FieldModel},
	{"frame", TypeFloat, FieldFrame},
	{"skin", TypeFloat, FieldSkin},
	{"effects", TypeFloat, FieldEffects},
	{"mins", TypeVector, FieldMins},
	{"maxs", TypeVector, FieldMaxs},
	{"size", TypeVector, FieldSize},
	{"touch", TypeFunction, FieldTouch},
	{"use", TypeFunction, FieldUse},
	{"think", TypeFunction, FieldThink},
	{"blocked", TypeFunction, FieldBlocked},
	{"nextthink", TypeFloat, FieldNextThink},
	{"groundentity", TypeEntity, FieldGroundEntity},
	{"health", TypeFloat, FieldHealth},
	{"frags", TypeFloat, FieldFrags},
	{"weapon", TypeFloat, FieldWeapon},
	{"weaponmodel", TypeString, FieldWeaponModel},
	{"weaponframe", TypeFloat, FieldWeaponFrame},
	{"currentammo", TypeFloat, FieldCurrentAmmo},
	{"ammo_shells", TypeFloat, FieldAmmoShells},
	{"ammo_nails", TypeFloat, FieldAmmoNails},
	{"ammo_rockets", TypeFloat, FieldAmmoRockets},
	{"ammo_cells", TypeFloat, FieldAmmoCells},
	{"items", TypeFloat, FieldItems},
	{"takedamage", TypeFloat, FieldTakeDamage},
	{"chain", TypeEntity, FieldChain},
	{"deadflag", TypeFloat, FieldDeadFlag},
	{"view_ofs", TypeVector, FieldViewOfs},
	{"button0", TypeFloat, FieldButton0},
	{"button1", TypeFloat, FieldButton1},
	{"button2", TypeFloat, FieldButton2},
	{"impulse", TypeFloat, FieldImpulse},
	{"fixangle", TypeFloat, FieldFixAngle},
	{"v_angle", TypeVector, FieldVAngle},
	{"idealpitch", TypeFloat, FieldIdealPitch},
	{"netname", TypeString, FieldNetName},
	{"enemy", TypeEntity, FieldEnemy},
	{"flags", TypeFloat, FieldFlags},
	{"colormap", TypeFloat, FieldColormap},
	{"team", TypeFloat, FieldTeam},
	{"max_health", TypeFloat, FieldMaxHealth},
	{"teleport_time", TypeFloat, FieldTeleportTime},
	{"armortype", TypeFloat, FieldArmorType},
	{"armorvalue", TypeFloat, FieldArmorValue},
	{"waterlevel", TypeFloat, FieldWaterLevel},
	{"watertype", TypeFloat, FieldWaterType},
	{"ideal_yaw", TypeFloat, FieldIdealYaw},
	{"yaw_speed", TypeFloat, FieldYawSpeed},
	{"aiment", TypeEntity, FieldAimEnt},
	{"goalentity", TypeEntity, FieldGoalEntity},
	{"spawnflags", TypeFloat, FieldSpawnFlags},
	{"target", TypeString, FieldTarget},
	{"targetname", TypeString, FieldTargetName},
	{"dmg_take", TypeFloat, FieldDmgTake},
	{"dmg_save", TypeFloat, FieldDmgSave},
	{"dmg_inflictor", TypeEntity, FieldDmgInflictor},
	{"owner", TypeEntity, FieldOwner},
	{"movedir", TypeVector, FieldMoveDir},
	{"message", TypeString, FieldMessage},
	{"sounds", TypeFloat, FieldSounds},
	{"noise", TypeString, FieldNoise},
	{"noise1", TypeString, FieldNoise1},
	{"noise2", TypeString, FieldNoise2},
	{"noise3", TypeString, FieldNoise3},
}

var reservedGlobals = []reservedDef{
	{"self", TypeEntity, GlobalSelf},
	{"other", TypeEntity, GlobalOther},
	{"world", TypeEntity, GlobalWorld},
	{"time", TypeFloat, GlobalTime},
	{"frametime", TypeFloat, GlobalFrameTime},
	{"force_retouch", TypeFloat, GlobalForceRetouch},
	{"mapname", TypeString, GlobalMapName},
	{"deathmatch", TypeFloat, GlobalDeathmatch},
	{"coop", TypeFloat, GlobalCoop},
	{"teamplay", TypeFloat, GlobalTeamplay},
	{"serverflags", TypeFloat, GlobalServerFlags},
	{"total_secrets", TypeFloat, GlobalTotalSecrets},
	{"total_monsters", TypeFloat, GlobalTotalMonsters},
	{"found_secrets", TypeFloat, GlobalFoundSecrets},
	{"killed_monsters", TypeFloat, GlobalKilledMonsters},
	{"v_forward", TypeVector, GlobalVForward},
	{"v_up", TypeVector, GlobalVUp},
	{"v_right", TypeVector, GlobalVRight},
	{"trace_allsolid", TypeFloat, GlobalTraceAllSolid},
	{"trace_startsolid", TypeFloat, GlobalTraceStartSolid},
	{"trace_fraction", TypeFloat, GlobalTraceFraction},
	{"trace_endpos", TypeVector, GlobalTraceEndPos},
	{"trace_plane_normal", TypeVector, GlobalTracePlaneNormal},
	{"trace_plane_dist", TypeFloat, GlobalTracePlaneDist},
	{"trace_ent", TypeEntity, GlobalTraceEnt},
	{"trace_inopen", TypeFloat, GlobalTraceInOpen},
	{"trace_inwater", TypeFloat, GlobalTraceInWater},
	{"msg_entity", TypeEntity, GlobalMsgEntity},
	{"main", TypeFunction, GlobalMain},
	{"StartFrame", TypeFunction, GlobalStartFrame},
	{"PlayerPreThink", TypeFunction, GlobalPlayerPreThink},
	{"PlayerPostThink", TypeFunction, GlobalPlayerPostThink},
	{"ClientKill", TypeFunction, GlobalClientKill},
	{"ClientConnect", TypeFunction, GlobalClientConnect},
	{"PutClientInServer", TypeFunction, GlobalPutClientInServer},
	{"ClientDisconnect", TypeFunction, GlobalClientDisconnect},
	{"SetNewParms", TypeFunction, GlobalSetNewParms},
	{"SetChangeParms", TypeFunction, GlobalSetChangeParms},
}

func init() {
	for i := 0; i < 16; i++ {
		reservedGlobals = append(reservedGlobals, reservedDef{
			name:   "parm" + strconv.Itoa(i+1),
			typ:    TypeFloat,
			offset: uint16(GlobalParm1 + i),
		})
	}
}

