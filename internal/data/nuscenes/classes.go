package nuscenes

// ClassNames lists the BEV occupancy classes in label bit order.
var ClassNames = []string{
	"drivable_area",
	"ped_crossing",
	"walkway",
	"carpark",
	"car",
	"truck",
	"bus",
	"trailer",
	"construction_vehicle",
	"pedestrian",
	"motorcycle",
	"bicycle",
	"traffic_cone",
	"barrier",
}
