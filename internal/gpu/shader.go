package gpu

// The simulation tick runs as three dispatches over one shared bind group:
//
//	apply_forces  per node: charge, radial, axis and center from the previous
//	              tick's buffer (src) into the working buffer (dst)
//	apply_links   per link: spring corrections read-modify-write dst with no
//	              atomics; concurrent writes to a shared endpoint may drop a
//	              contribution, which the layout tolerates because alpha
//	              cooling smooths transient asymmetry
//	integrate     per node: collision response, friction, pin clamping and
//	              the position update, in place on dst
//
// Struct layouts mirror nodeState, linkState and uniforms in pack.go.
const shaderSource = `
struct Node {
    x : f32,
    y : f32,
    vx : f32,
    vy : f32,
    fx : f32,
    fy : f32,
    pin_x : f32,
    pin_y : f32,
    radius : f32,
    pad0 : f32,
    pad1 : f32,
    pad2 : f32,
}

struct Link {
    source : u32,
    target : u32,
    distance : f32,
    strength : f32,
    bias : f32,
}

struct Params {
    alpha : f32,
    velocity_decay : f32,
    node_count : u32,
    link_count : u32,
    center_x : f32,
    center_y : f32,
    center_strength : f32,
    charge_strength : f32,
    distance_min2 : f32,
    distance_max2 : f32,
    collide_strength : f32,
    collide_iterations : u32,
    radial_radius : f32,
    radial_x : f32,
    radial_y : f32,
    radial_strength : f32,
    x_target : f32,
    x_strength : f32,
    y_target : f32,
    y_strength : f32,
    link_iterations : u32,
    pad0 : f32,
    pad1 : f32,
    pad2 : f32,
}

@group(0) @binding(0) var<storage, read> src : array<Node>;
@group(0) @binding(1) var<storage, read_write> dst : array<Node>;
@group(0) @binding(2) var<uniform> params : Params;
@group(0) @binding(3) var<storage, read> link_buf : array<Link>;

// jitter derives a tiny deterministic offset from an index pair, standing in
// for the host's seeded jiggle when two bodies coincide exactly.
fn jitter(a : u32, b : u32) -> f32 {
    let h = (a + 1u) * 2654435769u ^ (b + 1u) * 40503u;
    return (f32(h & 1023u) / 1023.0 - 0.5) * 1e-6;
}

@compute @workgroup_size(64)
fn apply_forces(@builtin(global_invocation_id) gid : vec3<u32>) {
    let i = gid.x;
    if (i >= params.node_count) {
        return;
    }
    var n = src[i];

    if (params.charge_strength != 0.0) {
        for (var j = 0u; j < params.node_count; j = j + 1u) {
            if (j == i) {
                continue;
            }
            let o = src[j];
            var dx = o.x - n.x;
            var dy = o.y - n.y;
            if (dx == 0.0 && dy == 0.0) {
                dx = jitter(i, j);
                dy = jitter(j, i);
            }
            var l = dx * dx + dy * dy;
            if (l >= params.distance_max2) {
                continue;
            }
            if (l < params.distance_min2) {
                l = sqrt(params.distance_min2 * l);
            }
            let w = params.charge_strength * params.alpha / l;
            n.vx = n.vx + dx * w;
            n.vy = n.vy + dy * w;
        }
    }

    if (params.radial_strength != 0.0) {
        var dx = n.x - params.radial_x;
        var dy = n.y - params.radial_y;
        if (dx == 0.0) {
            dx = 1e-6;
        }
        if (dy == 0.0) {
            dy = 1e-6;
        }
        let r = sqrt(dx * dx + dy * dy);
        let k = (params.radial_radius - r) * params.radial_strength * params.alpha / r;
        n.vx = n.vx + dx * k;
        n.vy = n.vy + dy * k;
    }

    if (params.x_strength != 0.0) {
        n.vx = n.vx + (params.x_target - n.x) * params.x_strength * params.alpha;
    }
    if (params.y_strength != 0.0) {
        n.vy = n.vy + (params.y_target - n.y) * params.y_strength * params.alpha;
    }

    if (params.center_strength != 0.0) {
        var sx = 0.0;
        var sy = 0.0;
        var count = 0.0;
        for (var j = 0u; j < params.node_count; j = j + 1u) {
            let o = src[j];
            if (o.pin_x == 0.0 && o.pin_y == 0.0) {
                sx = sx + o.x;
                sy = sy + o.y;
                count = count + 1.0;
            }
        }
        if (count > 0.0) {
            n.x = n.x + (params.center_x - sx / count) * params.center_strength * params.alpha;
            n.y = n.y + (params.center_y - sy / count) * params.center_strength * params.alpha;
        }
    }

    dst[i] = n;
}

@compute @workgroup_size(64)
fn apply_links(@builtin(global_invocation_id) gid : vec3<u32>) {
    let i = gid.x;
    if (i >= params.link_count) {
        return;
    }
    let l = link_buf[i];
    for (var it = 0u; it < params.link_iterations; it = it + 1u) {
        let s = dst[l.source];
        let t = dst[l.target];
        var x = t.x + t.vx - s.x - s.vx;
        var y = t.y + t.vy - s.y - s.vy;
        if (x == 0.0 && y == 0.0) {
            x = jitter(l.source, l.target);
            y = jitter(l.target, l.source);
        }
        let dist = sqrt(x * x + y * y);
        let scale = (dist - l.distance) / dist * params.alpha * l.strength;
        x = x * scale;
        y = y * scale;
        dst[l.target].vx = t.vx - x * l.bias;
        dst[l.target].vy = t.vy - y * l.bias;
        dst[l.source].vx = s.vx + x * (1.0 - l.bias);
        dst[l.source].vy = s.vy + y * (1.0 - l.bias);
    }
}

@compute @workgroup_size(64)
fn integrate(@builtin(global_invocation_id) gid : vec3<u32>) {
    let i = gid.x;
    if (i >= params.node_count) {
        return;
    }
    var n = dst[i];

    if (params.collide_strength != 0.0) {
        for (var it = 0u; it < params.collide_iterations; it = it + 1u) {
            for (var j = 0u; j < params.node_count; j = j + 1u) {
                if (j == i) {
                    continue;
                }
                let o = dst[j];
                let rsum = n.radius + o.radius;
                var dx = (n.x + n.vx) - (o.x + o.vx);
                var dy = (n.y + n.vy) - (o.y + o.vy);
                var l = dx * dx + dy * dy;
                if (l < rsum * rsum) {
                    if (dx == 0.0) {
                        dx = jitter(i, j);
                        l = l + dx * dx;
                    }
                    if (dy == 0.0) {
                        dy = jitter(j, i);
                        l = l + dy * dy;
                    }
                    l = sqrt(l);
                    let push = (rsum - l) / l * params.collide_strength;
                    let w = (o.radius * o.radius) / (n.radius * n.radius + o.radius * o.radius);
                    n.vx = n.vx + dx * push * w;
                    n.vy = n.vy + dy * push * w;
                }
            }
        }
    }

    let friction = 1.0 - params.velocity_decay;
    if (n.pin_x != 0.0) {
        n.x = n.fx;
        n.vx = 0.0;
    } else {
        n.vx = n.vx * friction;
        n.x = n.x + n.vx;
    }
    if (n.pin_y != 0.0) {
        n.y = n.fy;
        n.vy = 0.0;
    } else {
        n.vy = n.vy * friction;
        n.y = n.y + n.vy;
    }

    dst[i] = n;
}
`
